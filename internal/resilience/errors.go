// Package resilience retries store transactions that lost a write conflict.
package resilience

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes that mean "another writer got there first".
const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUniqueViolation      = "23505"
)

// ConflictError marks an error as a lost write race that is safe to replay.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError wraps err as a conflict.
func NewConflictError(err error) *ConflictError {
	return &ConflictError{Err: err}
}

// IsConflict reports whether err (or anything in its chain) is a write conflict:
// an explicit ConflictError, a Postgres serialization/deadlock/unique-violation
// error, or a SQLite busy/locked error. Connection loss and timeouts are not
// conflicts and are never replayed.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var ce *ConflictError
	if errors.As(err, &ce) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsConflictCode(pgErr.Code)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"sqlite_busy",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsConflictCode reports whether a SQLSTATE code is a conflict-class code.
func IsConflictCode(code string) bool {
	switch code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeUniqueViolation:
		return true
	default:
		return false
	}
}
