package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const appointmentColumns = `id, client_id, slot_id, status, version, created_at, updated_at`

type appointmentRepo struct {
	tx pgx.Tx
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.ClientID, &a.SlotID, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *appointmentRepo) FindByID(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return appt, nil
}

func (r *appointmentRepo) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.Version = 1
	_, err := r.tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appt.ID, appt.ClientID, appt.SlotID, appt.Status, appt.Version, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return appt, nil
}

func (r *appointmentRepo) Update(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	err := r.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			updated_at = $4,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`, appt.ID, appt.Version, appt.Status, appt.UpdatedAt).Scan(&appt.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, storage.ErrConflict
	}
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return appt, nil
}

func (r *appointmentRepo) ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
