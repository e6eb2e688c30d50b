package model

import "time"

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
)

// Slot is a bookable interval [StartTime, EndTime) owned by one provider.
//
// State transitions:
//
//	available --Book--> booked
//	booked --Release--> available
type Slot struct {
	ID         string
	ProviderID string
	Date       time.Time
	StartTime  time.Time
	EndTime    time.Time
	Status     SlotStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Version increments on every persisted write; storage rejects stale updates.
	Version int64
}

// NewSlot returns an available slot. A zero date defaults to the calendar day of start.
func NewSlot(id, providerID string, date, start, end, at time.Time) Slot {
	if date.IsZero() {
		date = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	}
	return Slot{
		ID:         id,
		ProviderID: providerID,
		Date:       date,
		StartTime:  start,
		EndTime:    end,
		Status:     SlotAvailable,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func (s *Slot) IsAvailable() bool {
	return s.Status == SlotAvailable
}

func (s *Slot) Book(at time.Time) error {
	if s.Status == SlotBooked {
		return ErrAlreadyBooked
	}
	s.Status = SlotBooked
	s.UpdatedAt = at
	return nil
}

func (s *Slot) Release(at time.Time) error {
	if s.Status == SlotAvailable {
		return ErrAlreadyAvailable
	}
	s.Status = SlotAvailable
	s.UpdatedAt = at
	return nil
}
