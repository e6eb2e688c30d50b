package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// memTx stages writes; reads see the transaction's own writes first.
type memTx struct {
	store  *Store
	slots  map[string]*stagedSlot
	appts  map[string]*stagedAppointment
	events []outbox.Event
}

type stagedSlot struct {
	slot   model.Slot
	create bool
	// base is the committed version this write was derived from.
	base int64
}

type stagedAppointment struct {
	appt   model.Appointment
	create bool
	base   int64
}

func (tx *memTx) Slots() storage.SlotRepository               { return slotRepo{tx} }
func (tx *memTx) Appointments() storage.AppointmentRepository { return appointmentRepo{tx} }
func (tx *memTx) Events() storage.EventWriter                 { return eventWriter{tx} }

type slotRepo struct{ tx *memTx }

func (r slotRepo) FindByID(_ context.Context, id string) (model.Slot, error) {
	if st, ok := r.tx.slots[id]; ok {
		return st.slot, nil
	}
	slot, ok := r.tx.store.committedSlot(id)
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	return slot, nil
}

func (r slotRepo) CheckOverlap(_ context.Context, providerID string, start, end time.Time) (bool, error) {
	candidate := availability.Interval{Start: start, End: end}
	for _, slot := range r.providerView(providerID) {
		if availability.Overlaps(candidate, availability.Interval{Start: slot.StartTime, End: slot.EndTime}) {
			return true, nil
		}
	}
	return false, nil
}

func (r slotRepo) Create(_ context.Context, slot model.Slot) (model.Slot, error) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if _, ok := r.tx.slots[slot.ID]; ok {
		return model.Slot{}, storage.ErrConflict
	}
	if _, ok := r.tx.store.committedSlot(slot.ID); ok {
		return model.Slot{}, storage.ErrConflict
	}
	slot.Version = 1
	r.tx.slots[slot.ID] = &stagedSlot{slot: slot, create: true}
	return slot, nil
}

func (r slotRepo) Update(ctx context.Context, slot model.Slot) (model.Slot, error) {
	cur, err := r.FindByID(ctx, slot.ID)
	if err != nil {
		return model.Slot{}, err
	}
	if cur.Version != slot.Version {
		return model.Slot{}, storage.ErrConflict
	}
	slot.Version++
	if st, ok := r.tx.slots[slot.ID]; ok {
		st.slot = slot
		return slot, nil
	}
	r.tx.slots[slot.ID] = &stagedSlot{slot: slot, base: cur.Version}
	return slot, nil
}

func (r slotRepo) ListByProvider(_ context.Context, providerID string, from, to time.Time) ([]model.Slot, error) {
	window := availability.Interval{Start: from, End: to}
	var out []model.Slot
	for _, slot := range r.providerView(providerID) {
		if availability.Overlaps(window, availability.Interval{Start: slot.StartTime, End: slot.EndTime}) {
			out = append(out, slot)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r slotRepo) providerView(providerID string) []model.Slot {
	var out []model.Slot
	for _, slot := range r.tx.store.committedSlotsFor(providerID) {
		if _, staged := r.tx.slots[slot.ID]; staged {
			continue
		}
		out = append(out, slot)
	}
	for _, st := range r.tx.slots {
		if st.slot.ProviderID == providerID {
			out = append(out, st.slot)
		}
	}
	return out
}

type appointmentRepo struct{ tx *memTx }

func (r appointmentRepo) FindByID(_ context.Context, id string) (model.Appointment, error) {
	if st, ok := r.tx.appts[id]; ok {
		return st.appt, nil
	}
	a, ok := r.tx.store.committedAppointment(id)
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (r appointmentRepo) Create(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if _, ok := r.tx.appts[appt.ID]; ok {
		return model.Appointment{}, storage.ErrConflict
	}
	if _, ok := r.tx.store.committedAppointment(appt.ID); ok {
		return model.Appointment{}, storage.ErrConflict
	}
	appt.Version = 1
	r.tx.appts[appt.ID] = &stagedAppointment{appt: appt, create: true}
	return appt, nil
}

func (r appointmentRepo) Update(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	cur, err := r.FindByID(ctx, appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if cur.Version != appt.Version {
		return model.Appointment{}, storage.ErrConflict
	}
	appt.Version++
	if st, ok := r.tx.appts[appt.ID]; ok {
		st.appt = appt
		return appt, nil
	}
	r.tx.appts[appt.ID] = &stagedAppointment{appt: appt, base: cur.Version}
	return appt, nil
}

func (r appointmentRepo) ListByClient(_ context.Context, clientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Appointment
	for _, a := range r.tx.store.committedAppointmentsFor(clientID) {
		if _, staged := r.tx.appts[a.ID]; staged {
			continue
		}
		out = append(out, a)
	}
	for _, st := range r.tx.appts {
		if st.appt.ClientID == clientID {
			out = append(out, st.appt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type eventWriter struct{ tx *memTx }

func (w eventWriter) Append(_ context.Context, evt outbox.Event) error {
	w.tx.events = append(w.tx.events, evt)
	return nil
}
