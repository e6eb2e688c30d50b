// Package postgres implements the booking repositories on PostgreSQL via pgx.
//
// Reads inside a transaction take row locks (FOR UPDATE). Writes are
// version-checked, and the schema backs the invariants with an exclusion
// constraint on provider intervals and a partial unique index allowing one
// confirmed appointment per slot.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
)

type Store struct {
	pool *db.Pool
}

var _ storage.Store = (*Store)(nil)

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn for migration: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Conn().PgConn().Exec(ctx, schema).ReadAll(); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return translate(err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Slots() storage.SlotRepository               { return &slotRepo{tx: t.tx} }
func (t *pgTx) Appointments() storage.AppointmentRepository { return &appointmentRepo{tx: t.tx} }
func (t *pgTx) Events() storage.EventWriter                 { return &eventWriter{tx: t.tx} }

// translate maps pgx and constraint errors onto the storage sentinels and
// returns anything else unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeExclusionViolation:
			return fmt.Errorf("%w (%s)", storage.ErrOverlap, pgErr.ConstraintName)
		case codeUniqueViolation, codeSerializationFailure:
			return fmt.Errorf("%w (%s)", storage.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}
