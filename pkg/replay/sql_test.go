package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLGuard(t *testing.T) (*SQLGuard, sqlmock.Sqlmock, *clockwork.FakeClock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	return NewSQLGuard(db, clock), mock, clock
}

func TestSQLGuardInit(t *testing.T) {
	guard, mock, _ := newSQLGuard(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saml_message_ids").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, guard.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGuardFirstUse(t *testing.T) {
	guard, mock, clock := newSQLGuard(t)

	mock.ExpectExec("INSERT INTO saml_message_ids").
		WithArgs("msg-123", clock.Now().Add(TTL).UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	used, err := guard.CheckAndRecord(context.Background(), "msg-123")
	require.NoError(t, err)
	assert.False(t, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGuardReplay(t *testing.T) {
	guard, mock, clock := newSQLGuard(t)

	mock.ExpectExec("INSERT INTO saml_message_ids").
		WithArgs("msg-123", clock.Now().Add(TTL).UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	used, err := guard.CheckAndRecord(context.Background(), "msg-123")
	require.NoError(t, err)
	assert.True(t, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGuardInsertFailure(t *testing.T) {
	guard, mock, _ := newSQLGuard(t)

	mock.ExpectExec("INSERT INTO saml_message_ids").
		WillReturnError(errors.New("connection reset"))

	_, err := guard.CheckAndRecord(context.Background(), "msg-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record message ID")
}

func TestSQLGuardDeleteExpired(t *testing.T) {
	guard, mock, clock := newSQLGuard(t)

	mock.ExpectExec("DELETE FROM saml_message_ids").
		WithArgs(clock.Now().UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := guard.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
