package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestWithTransaction_Commit(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE widgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewManager(db, Default).WithTransaction(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		inner, ok := FromContext(ctx)
		assert.True(t, ok)
		assert.Same(t, tx, inner)
		_, err := tx.ExecContext(ctx, "UPDATE widgets SET name = 'x'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := NewManager(db, Default).WithTransaction(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = NewManager(db, Default).WithTransaction(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
			panic("bad")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_ReusesAmbientTransaction(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	m := NewManager(db, Default)
	err := m.WithTransaction(context.Background(), func(ctx context.Context, outer *sqlx.Tx) error {
		return m.WithTransaction(ctx, func(ctx context.Context, inner *sqlx.Tx) error {
			assert.Same(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsolationLevel(t *testing.T) {
	assert.Nil(t, Default.ToSQLOptions())
	assert.Equal(t, sql.LevelSerializable, Serializable.ToSQLOptions().Isolation)
	assert.Equal(t, "REPEATABLE READ", RepeatableRead.String())
}
