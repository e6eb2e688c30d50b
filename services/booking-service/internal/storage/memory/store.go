// Package memory is an in-process Store for development and tests. It keeps
// the guarantees of the Postgres schema: version-checked updates, no
// overlapping slots per provider, and at most one confirmed appointment per slot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type Store struct {
	mu     sync.Mutex
	slots  map[string]model.Slot
	appts  map[string]model.Appointment
	events []outbox.Record
	seq    int64
	// discard drops events at commit instead of queueing them.
	discard bool

	drainMu sync.Mutex
}

var (
	_ storage.Store = (*Store)(nil)
	_ outbox.Source = (*Store)(nil)
)

func New() *Store {
	return &Store{
		slots: make(map[string]model.Slot),
		appts: make(map[string]model.Appointment),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store: s,
		slots: make(map[string]*stagedSlot),
		appts: make(map[string]*stagedAppointment),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// DeleteSlot removes a slot outside any booking flow, the way an administrator would.
func (s *Store) DeleteSlot(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return false
	}
	delete(s.slots, id)
	return true
}

// DiscardEvents stops the store from queueing outbox events. Use it when no
// publisher drains the store.
func (s *Store) DiscardEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discard = true
	s.events = nil
}

// Records returns the outbox records not yet drained, in insertion order.
func (s *Store) Records() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Record(nil), s.events...)
}

// Drain hands the oldest records to fn and forgets them once fn succeeds.
func (s *Store) Drain(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	s.mu.Lock()
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	batch := append([]outbox.Record(nil), s.events[:n]...)
	s.mu.Unlock()

	if err := fn(ctx, batch); err != nil {
		return err
	}

	// Drain is the only remover besides DiscardEvents, so the batch is still the prefix.
	s.mu.Lock()
	defer s.mu.Unlock()
	n = min(n, len(s.events))
	s.events = append(s.events[:0:0], s.events[n:]...)
	return nil
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, st := range tx.slots {
		cur, exists := s.slots[id]
		if st.create {
			if exists {
				return storage.ErrConflict
			}
			if s.overlapsLocked(tx, st.slot) {
				return storage.ErrOverlap
			}
			continue
		}
		if !exists || cur.Version != st.base {
			return storage.ErrConflict
		}
	}

	for id, st := range tx.appts {
		cur, exists := s.appts[id]
		if st.create {
			if exists {
				return storage.ErrConflict
			}
		} else if !exists || cur.Version != st.base {
			return storage.ErrConflict
		}
		if st.appt.IsActive() && s.confirmedForSlotLocked(tx, st.appt.SlotID) > 1 {
			return storage.ErrConflict
		}
	}

	for id, st := range tx.slots {
		s.slots[id] = st.slot
	}
	for id, st := range tx.appts {
		s.appts[id] = st.appt
	}
	if s.discard {
		return nil
	}
	now := time.Now().UTC()
	for _, evt := range tx.events {
		s.seq++
		s.events = append(s.events, outbox.Record{
			ID:            s.seq,
			EventID:       uuid.NewString(),
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			EventType:     evt.EventType,
			Payload:       evt.Payload,
			Traceparent:   evt.Traceparent,
			Tracestate:    evt.Tracestate,
			CreatedAt:     now,
		})
	}
	return nil
}

// overlapsLocked checks a new slot against committed slots and the other
// slots created by the same transaction.
func (s *Store) overlapsLocked(tx *memTx, slot model.Slot) bool {
	candidate := availability.Interval{Start: slot.StartTime, End: slot.EndTime}
	for id, other := range s.slots {
		if id == slot.ID || other.ProviderID != slot.ProviderID {
			continue
		}
		if availability.Overlaps(candidate, availability.Interval{Start: other.StartTime, End: other.EndTime}) {
			return true
		}
	}
	for id, st := range tx.slots {
		if id == slot.ID || !st.create || st.slot.ProviderID != slot.ProviderID {
			continue
		}
		if availability.Overlaps(candidate, availability.Interval{Start: st.slot.StartTime, End: st.slot.EndTime}) {
			return true
		}
	}
	return false
}

func (s *Store) confirmedForSlotLocked(tx *memTx, slotID string) int {
	n := 0
	for id, a := range s.appts {
		if _, staged := tx.appts[id]; staged {
			continue
		}
		if a.SlotID == slotID && a.IsActive() {
			n++
		}
	}
	for _, st := range tx.appts {
		if st.appt.SlotID == slotID && st.appt.IsActive() {
			n++
		}
	}
	return n
}

func (s *Store) committedSlot(id string) (model.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	return slot, ok
}

func (s *Store) committedAppointment(id string) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	return a, ok
}

func (s *Store) committedSlotsFor(providerID string) []model.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Slot
	for _, slot := range s.slots {
		if slot.ProviderID == providerID {
			out = append(out, slot)
		}
	}
	return out
}

func (s *Store) committedAppointmentsFor(clientID string) []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out
}

func sortSlots(slots []model.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}
