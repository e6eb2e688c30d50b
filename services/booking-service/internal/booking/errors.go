package booking

import (
	"errors"

	"github.com/md-rashed-zaman/slotbook/libs/lock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var (
	ErrSlotOverlap         = errors.New("slot overlaps an existing slot for this provider")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotUnavailable     = errors.New("slot is not available")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrUnauthorized        = errors.New("caller does not own this appointment")
	ErrInvalidInterval     = errors.New("slot end must be after start")
	ErrInvalidWindow       = errors.New("invalid time window")
)

// Outcome classifies err for metrics and logs. Everything other than "error"
// is a client-correctable result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotOverlap):
		return "overlap"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, model.ErrNotCancellable):
		return "not_cancellable"
	case errors.Is(err, ErrInvalidInterval), errors.Is(err, ErrInvalidWindow):
		return "invalid"
	case errors.Is(err, lock.ErrNotAcquired):
		return "lock_timeout"
	default:
		return "error"
	}
}
