package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

var _ outbox.Source = (*Store)(nil)

type eventWriter struct {
	tx pgx.Tx
}

func (w *eventWriter) Append(ctx context.Context, evt outbox.Event) error {
	_, err := w.tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, evt.Traceparent, evt.Tracestate)
	return err
}

// Drain locks up to limit unpublished rows with SKIP LOCKED so several
// publishers can run side by side, and marks them published when fn succeeds.
func (s *Store) Drain(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := fetchUnpublished(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(ctx, records); err != nil {
			return err
		}
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		_, err = tx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = now()
			WHERE id = ANY($1)
		`, ids)
		return err
	})
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]outbox.Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var rcd outbox.Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
