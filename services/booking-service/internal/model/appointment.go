package model

import "time"

type AppointmentStatus string

const (
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

// Appointment is a client's claim on exactly one slot.
//
// State transitions:
//
//	confirmed --Cancel--> cancelled (terminal)
//	any --Reschedule--> rescheduled
//
// Reschedule only flips the status; moving the claim to another slot is not modelled.
type Appointment struct {
	ID        string
	ClientID  string
	SlotID    string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

func NewAppointment(id, clientID, slotID string, at time.Time) Appointment {
	return Appointment{
		ID:        id,
		ClientID:  clientID,
		SlotID:    slotID,
		Status:    AppointmentConfirmed,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func (a *Appointment) IsActive() bool {
	return a.Status == AppointmentConfirmed
}

func (a *Appointment) Cancel(at time.Time) error {
	switch a.Status {
	case AppointmentCancelled:
		return ErrAlreadyCancelled
	case AppointmentConfirmed:
		a.Status = AppointmentCancelled
		a.UpdatedAt = at
		return nil
	default:
		return ErrNotCancellable
	}
}

func (a *Appointment) Reschedule(at time.Time) {
	a.Status = AppointmentRescheduled
	a.UpdatedAt = at
}
