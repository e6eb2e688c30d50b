package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

func TestTranslate(t *testing.T) {
	other := errors.New("connection reset")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, storage.ErrNotFound},
		{"exclusion", &pgconn.PgError{Code: codeExclusionViolation, ConstraintName: "slots_no_overlap"}, storage.ErrOverlap},
		{"unique", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "appointments_one_confirmed_per_slot"}, storage.ErrConflict},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation}), storage.ErrConflict},
		{"serialization", &pgconn.PgError{Code: codeSerializationFailure}, storage.ErrConflict},
	}
	for _, tc := range cases {
		if got := translate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	if got := translate(other); got != other {
		t.Fatalf("expected unrelated errors to pass through unchanged, got %v", got)
	}
	if translate(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
	// translating twice must not change the classification
	if got := translate(translate(&pgconn.PgError{Code: codeExclusionViolation})); !errors.Is(got, storage.ErrOverlap) {
		t.Fatalf("expected idempotent translation, got %v", got)
	}
}

func TestSchemaCarriesConstraints(t *testing.T) {
	for _, want := range []string{
		"slots_no_overlap",
		"tstzrange(start_time, end_time, '[)')",
		"appointments_one_confirmed_per_slot",
		"WHERE status = 'confirmed'",
		"outbox_events",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}
