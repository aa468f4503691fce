package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"approval-notify/internal/common/database"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const (
	subjectsTable   = "subjects"
	adminsTable     = "administrators"
	statusLogsTable = "account_status_logs"
	logSequences    = "account_log_sequences"
)

var subjectColumns = []string{
	"id", "name", "email", "phone", "role", "department", "designation",
	"dh_approval_status", "admin_approval_status", "is_approved", "approved_by",
	"is_disabled", "created_at", "updated_at",
}

var adminColumns = []string{
	"id", "name", "email", "phone", "is_system_admin", "is_approved", "approved_by",
	"is_disabled", "created_at", "updated_at",
}

// Store persists subject and administrator accounts and their status logs.
// Every state change is a conditional update committed together with its log entry.
type Store struct {
	db  *database.SQLClient
	now func() time.Time
}

func NewStore(db *database.SQLClient) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubject(row rowScanner) (*models.Subject, error) {
	var (
		s          models.Subject
		approvedBy sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Email, &s.Phone, &s.Role, &s.Department, &s.Designation,
		&s.DHApprovalStatus, &s.AdminApprovalStatus, &s.IsApproved, &approvedBy,
		&s.IsDisabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ApprovedBy = approvedBy.String
	return &s, nil
}

func scanAdministrator(row rowScanner) (*models.Administrator, error) {
	var (
		a          models.Administrator
		approvedBy sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.Email, &a.Phone, &a.IsSystemAdmin, &a.IsApproved, &approvedBy,
		&a.IsDisabled, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ApprovedBy = approvedBy.String
	return &a, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// insertStatusLog appends entry with the account's next log sequence inside tx.
func (s *Store) insertStatusLog(ctx context.Context, tx *sql.Tx, entry models.StatusLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	seqStatement, seqArgs, err := s.db.Builder().
		Insert(logSequences).
		Columns("account_id", "account_kind", "seq").
		Values(entry.AccountID, string(entry.AccountKind), 1).
		Suffix("ON CONFLICT (account_id, account_kind) DO UPDATE SET seq = " + logSequences + ".seq + 1 RETURNING seq").
		ToSql()
	if err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, seqStatement, seqArgs...).Scan(&entry.Sequence); err != nil {
		return apperrors.NewQueryExecutionFailedError("next_log_sequence", err)
	}

	statement, args, err := s.db.Builder().
		Insert(statusLogsTable).
		Columns("id", "account_id", "account_kind", "status", "message", "actor_id", "actor_kind", "sequence", "created_at").
		Values(entry.ID, entry.AccountID, string(entry.AccountKind), entry.Status, entry.Message,
			entry.ActorID, string(entry.ActorKind), entry.Sequence, entry.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
		return apperrors.NewQueryExecutionFailedError("insert_status_log", err)
	}
	return nil
}

// CreateSubject inserts a new subject with its registration log entry.
func (s *Store) CreateSubject(ctx context.Context, subject *models.Subject, entry models.StatusLog) error {
	now := s.now()
	subject.CreatedAt, subject.UpdatedAt = now, now

	statement, args, err := s.db.Builder().
		Insert(subjectsTable).
		Columns(subjectColumns...).
		Values(
			subject.ID, subject.Name, subject.Email, subject.Phone, subject.Role, subject.Department,
			subject.Designation, string(subject.DHApprovalStatus), string(subject.AdminApprovalStatus),
			string(subject.IsApproved), nullable(subject.ApprovedBy), subject.IsDisabled,
			subject.CreatedAt, subject.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return fmt.Errorf("insert subject: %w", err)
		}
		return s.insertStatusLog(ctx, tx, entry)
	})
}

// GetSubject returns the subject or a NOT_FOUND error.
func (s *Store) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	statement, args, err := s.db.Builder().
		Select(subjectColumns...).
		From(subjectsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	subject, err := scanSubject(s.db.DB.QueryRowContext(ctx, statement, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("subject", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_subject", err)
	}
	return subject, nil
}

// ListDepartmentHeads returns active subjects in department holding one of the head designations.
func (s *Store) ListDepartmentHeads(ctx context.Context, department string, designations []string) ([]models.Subject, error) {
	statement, args, err := s.db.Builder().
		Select(subjectColumns...).
		From(subjectsTable).
		Where(sq.Eq{
			"department":  department,
			"designation": designations,
			"is_approved": string(models.ReviewApproved),
			"is_disabled": false,
		}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.DB.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list_department_heads", err)
	}
	defer rows.Close()

	var heads []models.Subject
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("list_department_heads", err)
		}
		heads = append(heads, *subject)
	}
	return heads, rows.Err()
}

func (s *Store) conditionalUpdate(ctx context.Context, op string, update sq.UpdateBuilder, entry models.StatusLog) (bool, error) {
	statement, args, err := update.ToSql()
	if err != nil {
		return false, err
	}

	changed := false
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, statement, args...)
		if err != nil {
			return apperrors.NewQueryExecutionFailedError(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.NewQueryExecutionFailedError(op, err)
		}
		if n == 0 {
			return nil
		}
		if err := s.insertStatusLog(ctx, tx, entry); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// UpdateSubjectDH sets dh_approval_status to `to` when the current status is one of `from`
// and the admin stage is still pending. It reports whether a row changed.
func (s *Store) UpdateSubjectDH(ctx context.Context, id string, to models.DHApprovalStatus, from []models.DHApprovalStatus, entry models.StatusLog) (bool, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	update := s.db.Builder().
		Update(subjectsTable).
		Set("dh_approval_status", string(to)).
		Set("updated_at", s.now()).
		Where(sq.Eq{
			"id":                    id,
			"dh_approval_status":    allowed,
			"admin_approval_status": string(models.ReviewPending),
		})
	return s.conditionalUpdate(ctx, "update_subject_dh", update, entry)
}

// FinalizeAdminReview moves admin_approval_status out of pending exactly once, and only when the
// department-head stage is cleared. Approval also sets is_approved and approved_by; rejection
// sets is_approved only when rejectionFinalizes is true.
func (s *Store) FinalizeAdminReview(ctx context.Context, id string, decision models.Decision, actorID string, rejectionFinalizes bool, entry models.StatusLog) (bool, error) {
	update := s.db.Builder().
		Update(subjectsTable).
		Set("updated_at", s.now())

	if decision == models.DecisionApprove {
		update = update.
			Set("admin_approval_status", string(models.ReviewApproved)).
			Set("is_approved", string(models.ReviewApproved)).
			Set("approved_by", actorID)
	} else {
		update = update.Set("admin_approval_status", string(models.ReviewRejected))
		if rejectionFinalizes {
			update = update.Set("is_approved", string(models.ReviewRejected))
		}
	}

	update = update.Where(sq.Eq{
		"id":                    id,
		"admin_approval_status": string(models.ReviewPending),
		"dh_approval_status":    []string{string(models.DHApproved), string(models.DHNotRequired)},
	})
	return s.conditionalUpdate(ctx, "finalize_admin_review", update, entry)
}

func (s *Store) toggle(ctx context.Context, op, table string, where sq.Sqlizer, entry func(disabled bool) models.StatusLog) (bool, bool, error) {
	statement, args, err := s.db.Builder().
		Update(table).
		Set("is_disabled", sq.Expr("NOT is_disabled")).
		Set("updated_at", s.now()).
		Where(where).
		Suffix("RETURNING is_disabled").
		ToSql()
	if err != nil {
		return false, false, err
	}

	var (
		disabled bool
		found    bool
	)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, statement, args...).Scan(&disabled)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return apperrors.NewQueryExecutionFailedError(op, err)
		}
		if err := s.insertStatusLog(ctx, tx, entry(disabled)); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return disabled, found, nil
}

// ToggleSubjectDisabled flips is_disabled atomically and returns the new value.
func (s *Store) ToggleSubjectDisabled(ctx context.Context, id string, entry func(disabled bool) models.StatusLog) (bool, error) {
	disabled, found, err := s.toggle(ctx, "toggle_subject_disabled", subjectsTable, sq.Eq{"id": id}, entry)
	if err != nil {
		return false, err
	}
	if !found {
		return false, apperrors.NewNotFoundError("subject", id)
	}
	return disabled, nil
}

// CountAdministrators returns the number of administrator accounts.
func (s *Store) CountAdministrators(ctx context.Context) (int64, error) {
	statement, args, err := s.db.Builder().Select("COUNT(*)").From(adminsTable).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, statement, args...).Scan(&n); err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("count_administrators", err)
	}
	return n, nil
}

// CreateAdministrator inserts an administrator with its registration log entry. A second
// system administrator violates a partial unique index; callers detect it with
// database.IsUniqueViolation.
func (s *Store) CreateAdministrator(ctx context.Context, admin *models.Administrator, entry models.StatusLog) error {
	now := s.now()
	admin.CreatedAt, admin.UpdatedAt = now, now

	statement, args, err := s.db.Builder().
		Insert(adminsTable).
		Columns(adminColumns...).
		Values(
			admin.ID, admin.Name, admin.Email, admin.Phone, admin.IsSystemAdmin,
			string(admin.IsApproved), nullable(admin.ApprovedBy), admin.IsDisabled,
			admin.CreatedAt, admin.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return fmt.Errorf("insert administrator: %w", err)
		}
		return s.insertStatusLog(ctx, tx, entry)
	})
}

func (s *Store) getAdministrator(ctx context.Context, where sq.Sqlizer, notFoundID string) (*models.Administrator, error) {
	statement, args, err := s.db.Builder().
		Select(adminColumns...).
		From(adminsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	admin, err := scanAdministrator(s.db.DB.QueryRowContext(ctx, statement, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("administrator", notFoundID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_administrator", err)
	}
	return admin, nil
}

// GetAdministrator returns the administrator or a NOT_FOUND error.
func (s *Store) GetAdministrator(ctx context.Context, id string) (*models.Administrator, error) {
	return s.getAdministrator(ctx, sq.Eq{"id": id}, id)
}

// GetSystemAdmin returns the bootstrap administrator or a NOT_FOUND error.
func (s *Store) GetSystemAdmin(ctx context.Context) (*models.Administrator, error) {
	return s.getAdministrator(ctx, sq.Eq{"is_system_admin": true}, "system")
}

// FinalizeAdministratorReview moves a non-system administrator out of pending exactly once.
func (s *Store) FinalizeAdministratorReview(ctx context.Context, id string, decision models.Decision, actorID string, entry models.StatusLog) (bool, error) {
	update := s.db.Builder().
		Update(adminsTable).
		Set("updated_at", s.now())
	if decision == models.DecisionApprove {
		update = update.
			Set("is_approved", string(models.ReviewApproved)).
			Set("approved_by", actorID)
	} else {
		update = update.Set("is_approved", string(models.ReviewRejected))
	}
	update = update.Where(sq.Eq{
		"id":              id,
		"is_approved":     string(models.ReviewPending),
		"is_system_admin": false,
	})
	return s.conditionalUpdate(ctx, "finalize_administrator_review", update, entry)
}

// ToggleAdministratorDisabled flips is_disabled on a non-system administrator. found is false
// when no such row matched, either because the id is unknown or it is the system administrator.
func (s *Store) ToggleAdministratorDisabled(ctx context.Context, id string, entry func(disabled bool) models.StatusLog) (disabled bool, found bool, err error) {
	return s.toggle(ctx, "toggle_administrator_disabled", adminsTable,
		sq.Eq{"id": id, "is_system_admin": false}, entry)
}

// ListStatusLogs returns an account's history, oldest first.
func (s *Store) ListStatusLogs(ctx context.Context, kind models.RecipientKind, id string) ([]models.StatusLog, error) {
	statement, args, err := s.db.Builder().
		Select("id", "account_id", "account_kind", "status", "message", "actor_id", "actor_kind", "sequence", "created_at").
		From(statusLogsTable).
		Where(sq.Eq{"account_kind": string(kind), "account_id": id}).
		OrderBy("sequence", "created_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.DB.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list_status_logs", err)
	}
	defer rows.Close()

	var logs []models.StatusLog
	for rows.Next() {
		var entry models.StatusLog
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.AccountKind, &entry.Status,
			&entry.Message, &entry.ActorID, &entry.ActorKind, &entry.Sequence, &entry.CreatedAt); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("list_status_logs", err)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// Recipient resolves the contact details of an account for the notification pipeline.
func (s *Store) Recipient(ctx context.Context, kind models.RecipientKind, id string) (*models.Recipient, error) {
	switch kind {
	case models.KindSubject:
		subject, err := s.GetSubject(ctx, id)
		if err != nil {
			return nil, err
		}
		return &models.Recipient{ID: subject.ID, Kind: kind, Name: subject.Name, Email: subject.Email, Phone: subject.Phone}, nil
	case models.KindAdministrator:
		admin, err := s.GetAdministrator(ctx, id)
		if err != nil {
			return nil, err
		}
		return &models.Recipient{ID: admin.ID, Kind: kind, Name: admin.Name, Email: admin.Email, Phone: admin.Phone}, nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown recipient kind %q", kind))
	}
}
