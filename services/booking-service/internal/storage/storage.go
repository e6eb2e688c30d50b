// Package storage defines the repository contracts the booking core persists
// through. Implementations live in the postgres and memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a concurrent writer got there first: a stale version,
	// or a second confirmed appointment for one slot.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrOverlap means a slot insert collided with another slot of the same provider.
	ErrOverlap = errors.New("slot interval overlaps an existing slot")
)

type SlotRepository interface {
	FindByID(ctx context.Context, id string) (model.Slot, error)
	// CheckOverlap considers every slot of the provider regardless of status.
	CheckOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)
	Create(ctx context.Context, slot model.Slot) (model.Slot, error)
	// Update fails with ErrConflict unless slot.Version matches the stored version.
	Update(ctx context.Context, slot model.Slot) (model.Slot, error)
	// ListByProvider returns slots intersecting [from, to), ordered by start time.
	ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]model.Slot, error)
}

type AppointmentRepository interface {
	FindByID(ctx context.Context, id string) (model.Appointment, error)
	Create(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	Update(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error)
}

type EventWriter interface {
	Append(ctx context.Context, evt outbox.Event) error
}

// Tx is one unit of work. Nothing written through it is visible to other
// callers until the surrounding WithinTx returns nil.
type Tx interface {
	Slots() SlotRepository
	Appointments() AppointmentRepository
	Events() EventWriter
}

type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsOverlap(err error) bool {
	return errors.Is(err, ErrOverlap)
}
