package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestConvertDBError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"pgx unique", &pgconn.PgError{Code: "23505", Detail: "dup"}, ErrUniqueViolation},
		{"pgx fk wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), ErrForeignKeyViolation},
		{"pq check", &pq.Error{Code: "23514"}, ErrCheckViolation},
		{"pq not null", &pq.Error{Code: "23502", Column: "name"}, ErrNotNullViolation},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, ErrUniqueViolation},
		{"sqlite fk", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, ErrForeignKeyViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertDBError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestConvertDBError_PassesThroughUnknown(t *testing.T) {
	orig := errors.New("connection refused")
	assert.Same(t, orig, ConvertDBError(orig))
	assert.False(t, IsConstraintViolation(orig))
	assert.True(t, IsConstraintViolation(ConvertDBError(&pq.Error{Code: "23505"})))
	assert.True(t, IsNotFound(ConvertDBError(sql.ErrNoRows)))
}
