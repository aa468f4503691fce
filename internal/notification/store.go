package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"approval-notify/internal/common/database"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const (
	notificationsTable = "notifications"
	sequencesTable     = "recipient_sequences"
)

var notificationColumns = []string{
	"id", "recipient_id", "recipient_kind", "type", "title", "message", "data",
	"is_read", "read_at", "is_deleted", "deleted_at", "priority", "action_required",
	"action_url", "sequence", "created_at", "updated_at",
}

// Store persists notification records. Records are never physically deleted.
type Store struct {
	db  *database.SQLClient
	now func() time.Time
}

func NewStore(db *database.SQLClient) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func scanNotification(row interface{ Scan(...interface{}) error }) (*models.Notification, error) {
	var (
		n         models.Notification
		data      []byte
		readAt    sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.RecipientKind, &n.Type, &n.Title, &n.Message, &data,
		&n.IsRead, &readAt, &n.IsDeleted, &deletedAt, &n.Priority, &n.ActionRequired,
		&n.ActionURL, &n.Sequence, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		n.DeletedAt = &t
	}
	return &n, nil
}

func ownedBy(owner models.Actor) sq.Eq {
	return sq.Eq{"recipient_id": owner.ID, "recipient_kind": string(owner.Kind)}
}

// Create assigns the recipient's next sequence number and inserts the record in one transaction.
func (s *Store) Create(ctx context.Context, n *models.Notification) error {
	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now
	if n.Data == nil {
		n.Data = map[string]interface{}{}
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("notification data: %v", err))
	}

	seqStatement, seqArgs, err := s.db.Builder().
		Insert(sequencesTable).
		Columns("recipient_id", "recipient_kind", "seq").
		Values(n.RecipientID, string(n.RecipientKind), 1).
		Suffix("ON CONFLICT (recipient_id, recipient_kind) DO UPDATE SET seq = " + sequencesTable + ".seq + 1 RETURNING seq").
		ToSql()
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, seqStatement, seqArgs...).Scan(&n.Sequence); err != nil {
			return apperrors.NewQueryExecutionFailedError("next_sequence", err)
		}

		statement, args, err := s.db.Builder().
			Insert(notificationsTable).
			Columns(notificationColumns...).
			Values(
				n.ID, n.RecipientID, string(n.RecipientKind), string(n.Type), n.Title, n.Message, string(data),
				false, nil, false, nil, string(n.Priority), n.ActionRequired,
				n.ActionURL, n.Sequence, n.CreatedAt, n.UpdatedAt,
			).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return apperrors.NewQueryExecutionFailedError("insert_notification", err)
		}
		return nil
	})
}

// Get returns a record owned by owner, including soft-deleted ones.
func (s *Store) Get(ctx context.Context, owner models.Actor, id string) (*models.Notification, error) {
	where := ownedBy(owner)
	where["id"] = id
	statement, args, err := s.db.Builder().
		Select(notificationColumns...).
		From(notificationsTable).
		Where(where).
		ToSql()
	if err != nil {
		return nil, err
	}

	n, err := scanNotification(s.db.DB.QueryRowContext(ctx, statement, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_notification", err)
	}
	return n, nil
}

func (s *Store) count(ctx context.Context, where sq.Sqlizer) (int64, error) {
	statement, args, err := s.db.Builder().
		Select("COUNT(*)").
		From(notificationsTable).
		Where(where).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, statement, args...).Scan(&n); err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("count_notifications", err)
	}
	return n, nil
}

// List returns one page of live records, newest first, and the total matching count.
func (s *Store) List(ctx context.Context, owner models.Actor, offset, limit uint64, unreadOnly bool) ([]models.Notification, int64, error) {
	where := ownedBy(owner)
	where["is_deleted"] = false
	if unreadOnly {
		where["is_read"] = false
	}

	total, err := s.count(ctx, where)
	if err != nil {
		return nil, 0, err
	}

	statement, args, err := s.db.Builder().
		Select(notificationColumns...).
		From(notificationsTable).
		Where(where).
		OrderBy("sequence DESC").
		Offset(offset).
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.DB.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, 0, apperrors.NewQueryExecutionFailedError("list_notifications", err)
	}
	defer rows.Close()

	items := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, apperrors.NewQueryExecutionFailedError("list_notifications", err)
		}
		items = append(items, *n)
	}
	return items, total, rows.Err()
}

// UnreadCount counts live unread records.
func (s *Store) UnreadCount(ctx context.Context, owner models.Actor) (int64, error) {
	where := ownedBy(owner)
	where["is_deleted"] = false
	where["is_read"] = false
	return s.count(ctx, where)
}

// MarkRead sets is_read and read_at once. Marking an already read record is a no-op.
func (s *Store) MarkRead(ctx context.Context, owner models.Actor, id string) (*models.Notification, error) {
	where := ownedBy(owner)
	where["id"] = id
	where["is_deleted"] = false
	where["is_read"] = false

	now := s.now()
	statement, args, err := s.db.Builder().
		Update(notificationsTable).
		Set("is_read", true).
		Set("read_at", now).
		Set("updated_at", now).
		Where(where).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.DB.ExecContext(ctx, statement, args...); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("mark_read", err)
	}

	n, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if n.IsDeleted {
		return nil, apperrors.NewNotFoundError("notification", id)
	}
	return n, nil
}

// MarkAllRead marks every live unread record read and returns how many changed.
func (s *Store) MarkAllRead(ctx context.Context, owner models.Actor) (int64, error) {
	where := ownedBy(owner)
	where["is_deleted"] = false
	where["is_read"] = false

	now := s.now()
	statement, args, err := s.db.Builder().
		Update(notificationsTable).
		Set("is_read", true).
		Set("read_at", now).
		Set("updated_at", now).
		Where(where).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.DB.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("mark_all_read", err)
	}
	return res.RowsAffected()
}

// SoftDelete flags a record deleted. Deleting an already deleted record succeeds.
func (s *Store) SoftDelete(ctx context.Context, owner models.Actor, id string) error {
	where := ownedBy(owner)
	where["id"] = id
	where["is_deleted"] = false

	now := s.now()
	statement, args, err := s.db.Builder().
		Update(notificationsTable).
		Set("is_deleted", true).
		Set("deleted_at", now).
		Set("updated_at", now).
		Where(where).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.DB.ExecContext(ctx, statement, args...)
	if err != nil {
		return apperrors.NewQueryExecutionFailedError("soft_delete", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.Get(ctx, owner, id)
	return err
}
