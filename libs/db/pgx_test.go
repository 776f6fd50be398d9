package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestHasCode_UnwrapsPgError(t *testing.T) {
	err := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: CodeExclusionViolation})
	if !HasCode(err, CodeUniqueViolation, CodeExclusionViolation) {
		t.Fatal("expected exclusion violation to match")
	}
	if HasCode(err, CodeUniqueViolation) {
		t.Fatal("did not expect unique violation to match")
	}
	if HasCode(errors.New("plain"), CodeUniqueViolation) {
		t.Fatal("plain errors carry no code")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pgconn.PgError{Code: CodeLockNotAvailable}) {
		t.Fatal("lock timeout must be retryable")
	}
	if IsRetryable(&pgconn.PgError{Code: CodeUniqueViolation}) {
		t.Fatal("unique violation is not retryable")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to match")
	}
}

func TestOperation(t *testing.T) {
	cases := map[string]string{
		"\n\t\tSELECT id FROM appointments": "SELECT",
		"insert into outbox_events":         "INSERT",
		"  ":                                "QUERY",
	}
	for sql, want := range cases {
		if got := operation(sql); got != want {
			t.Fatalf("operation(%q) = %q, want %q", sql, got, want)
		}
	}
}
