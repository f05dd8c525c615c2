package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

func TestIsConflict_ExplicitConflictError(t *testing.T) {
	err := NewConflictError(errors.New("lost race"))
	if !IsConflict(err) {
		t.Error("expected ConflictError to be a conflict")
	}
}

func TestIsConflict_WrappedPgError(t *testing.T) {
	for _, code := range []string{CodeSerializationFailure, CodeDeadlockDetected, CodeUniqueViolation} {
		err := eris.Wrap(&pgconn.PgError{Code: code, Message: "conflict"}, "business: insert")
		if !IsConflict(err) {
			t.Errorf("expected SQLSTATE %s to be a conflict", code)
		}
	}
}

func TestIsConflict_OtherPgError(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23502", Message: "null value"})
	if IsConflict(err) {
		t.Error("not-null violation should not be a conflict")
	}
}

func TestIsConflict_NilError(t *testing.T) {
	if IsConflict(nil) {
		t.Error("nil error should not be a conflict")
	}
}

func TestIsConflict_ConnectionLossIsNotConflict(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if IsConflict(err) {
		t.Error("connection reset must not be replayed")
	}
}

func TestIsConflict_SQLiteBusy(t *testing.T) {
	tests := []string{
		"database is locked (5) (SQLITE_BUSY)",
		"sqlite: step: database table is locked",
	}
	for _, msg := range tests {
		if !IsConflict(errors.New(msg)) {
			t.Errorf("expected %q to be a conflict", msg)
		}
	}
}

func TestIsConflictCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"40001", true},
		{"40P01", true},
		{"23505", true},
		{"23503", false},
		{"08006", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsConflictCode(tt.code); got != tt.want {
			t.Errorf("IsConflictCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestConflictError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	ce := NewConflictError(inner)
	if !errors.Is(ce, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if ce.Error() != "root cause" {
		t.Errorf("expected 'root cause', got %q", ce.Error())
	}
}
