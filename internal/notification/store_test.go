package notification

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"approval-notify/internal/common/database"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(&database.SQLClient{DB: db, Dialect: database.DialectPostgres})
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestCreate_AssignsSequenceInSameTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO recipient_sequences (recipient_id,recipient_kind,seq) VALUES ($1,$2,$3) ON CONFLICT (recipient_id, recipient_kind) DO UPDATE SET seq = recipient_sequences.seq + 1 RETURNING seq")).
		WithArgs("s-1", "subject", 1).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n := &models.Notification{ID: "n-1", RecipientID: "s-1", RecipientKind: models.KindSubject, Type: models.EventRegistration, Priority: models.PriorityLow}
	require.NoError(t, store.Create(context.Background(), n))
	assert.Equal(t, int64(7), n.Sequence)
	assert.Equal(t, map[string]interface{}{}, n.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_InsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO recipient_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Create(context.Background(), &models.Notification{ID: "n-1", RecipientID: "s-1", RecipientKind: models.KindSubject})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeQueryExecutionFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RejectsUnencodableData(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.Create(context.Background(), &models.Notification{
		ID: "n-1", RecipientID: "s-1", RecipientKind: models.KindSubject,
		Data: map[string]interface{}{"bad": func() {}},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_QueryFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE")).
		WillReturnError(errors.New("connection reset"))

	_, _, err := store.List(context.Background(), models.Actor{ID: "s-1", Kind: models.KindSubject}, 0, 20, false)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeQueryExecutionFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllRead_OnlyLiveUnread(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = $1, read_at = $2, updated_at = $3 WHERE is_deleted = $4 AND is_read = $5 AND recipient_id = $6 AND recipient_kind = $7")).
		WithArgs(true, sqlmock.AnyArg(), sqlmock.AnyArg(), false, false, "s-1", "subject").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.MarkAllRead(context.Background(), models.Actor{ID: "s-1", Kind: models.KindSubject})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
