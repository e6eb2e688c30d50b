package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const slotColumns = `id, provider_id, slot_date, start_time, end_time, status, version, created_at, updated_at`

type slotRepo struct {
	tx pgx.Tx
}

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.ProviderID, &s.Date, &s.StartTime, &s.EndTime, &s.Status, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *slotRepo) FindByID(ctx context.Context, id string) (model.Slot, error) {
	slot, err := scanSlot(r.tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Slot{}, translate(err)
	}
	return slot, nil
}

func (r *slotRepo) CheckOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE provider_id = $1
				AND start_time < $3
				AND end_time > $2
		)
	`, providerID, start, end).Scan(&exists)
	return exists, err
}

func (r *slotRepo) Create(ctx context.Context, slot model.Slot) (model.Slot, error) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	slot.Version = 1
	_, err := r.tx.Exec(ctx, `
		INSERT INTO slots (`+slotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, slot.ID, slot.ProviderID, slot.Date, slot.StartTime, slot.EndTime, slot.Status, slot.Version, slot.CreatedAt, slot.UpdatedAt)
	if err != nil {
		return model.Slot{}, translate(err)
	}
	return slot, nil
}

// Update writes slot if its Version still matches the row. A missing row is
// reported as a conflict too: someone else changed it after it was read.
func (r *slotRepo) Update(ctx context.Context, slot model.Slot) (model.Slot, error) {
	err := r.tx.QueryRow(ctx, `
		UPDATE slots
		SET slot_date = $3,
			start_time = $4,
			end_time = $5,
			status = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`, slot.ID, slot.Version, slot.Date, slot.StartTime, slot.EndTime, slot.Status, slot.UpdatedAt).Scan(&slot.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Slot{}, storage.ErrConflict
	}
	if err != nil {
		return model.Slot{}, translate(err)
	}
	return slot, nil
}

func (r *slotRepo) ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}
