// Package booking is the booking consistency engine. Every operation runs as
// one storage transaction; slot bookings are serialized per slot and slot
// creation per provider, with storage constraints as the final guard.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/libs/lock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	scopeSlot     = "slot"
	scopeProvider = "provider"

	maxGenerateWindow = 31 * 24 * time.Hour

	// A cancel that loses a version race on the slot row is re-run; one that
	// lost it on the appointment row then sees the appointment already cancelled.
	maxCancelAttempts = 3
)

type Service struct {
	store   storage.Store
	locker  lock.Locker
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

type Options struct {
	// Locker serializes work per slot and per provider. Nil means no
	// in-front locking; storage constraints still hold.
	Locker  lock.Locker
	Metrics *metrics.Collector
	Clock   func() time.Time
	NewID   func() string
}

func NewService(store storage.Store, logger *slog.Logger, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = lock.Noop{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		store:   store,
		locker:  opts.Locker,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("booking-service/booking"),
		now:     opts.Clock,
		newID:   opts.NewID,
	}
}

type CreateSlotCommand struct {
	ProviderID string
	// Date is the calendar day the slot belongs to; zero means the day of StartTime.
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
}

func (s *Service) CreateSlot(ctx context.Context, cmd CreateSlotCommand) (model.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateSlot", trace.WithAttributes(
		attribute.String("provider.id", cmd.ProviderID),
	))
	defer span.End()

	slot, err := s.createSlot(ctx, cmd)
	s.metrics.SlotCreated(Outcome(err))
	s.finish(span, "create slot", err, "provider_id", cmd.ProviderID)
	if err != nil {
		return model.Slot{}, err
	}
	s.logger.Info("slot created", "slot_id", slot.ID, "provider_id", slot.ProviderID, "start", slot.StartTime, "end", slot.EndTime)
	return slot, nil
}

func (s *Service) createSlot(ctx context.Context, cmd CreateSlotCommand) (model.Slot, error) {
	if !(availability.Interval{Start: cmd.StartTime, End: cmd.EndTime}).Valid() {
		return model.Slot{}, ErrInvalidInterval
	}
	unlock, err := s.acquire(ctx, scopeProvider, cmd.ProviderID)
	if err != nil {
		return model.Slot{}, err
	}
	defer unlock()

	var created model.Slot
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		overlap, err := tx.Slots().CheckOverlap(ctx, cmd.ProviderID, cmd.StartTime, cmd.EndTime)
		if err != nil {
			return err
		}
		if overlap {
			return ErrSlotOverlap
		}
		created, err = s.insertSlot(ctx, tx, cmd.ProviderID, cmd.Date, cmd.StartTime, cmd.EndTime)
		return err
	})
	if storage.IsOverlap(err) {
		return model.Slot{}, ErrSlotOverlap
	}
	return created, err
}

func (s *Service) insertSlot(ctx context.Context, tx storage.Tx, providerID string, date, start, end time.Time) (model.Slot, error) {
	now := s.now()
	slot, err := tx.Slots().Create(ctx, model.NewSlot(s.newID(), providerID, date, start, end, now))
	if err != nil {
		return model.Slot{}, err
	}
	err = appendEvent(ctx, tx, outbox.AggregateSlot, slot.ID, outbox.EventSlotCreated, slotCreatedPayload{
		SlotID:     slot.ID,
		ProviderID: slot.ProviderID,
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
		OccurredAt: now,
	})
	return slot, err
}

type GenerateSlotsCommand struct {
	ProviderID  string
	WindowStart time.Time
	WindowEnd   time.Time
	Duration    time.Duration
	// Step is the distance between candidate starts; zero means Duration.
	Step time.Duration
}

// GenerateSlots creates every slot of cmd.Duration that fits in the window
// without overlapping the provider's existing slots or each other. Starts in
// the past are skipped.
func (s *Service) GenerateSlots(ctx context.Context, cmd GenerateSlotsCommand) ([]model.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "booking.GenerateSlots", trace.WithAttributes(
		attribute.String("provider.id", cmd.ProviderID),
	))
	defer span.End()

	slots, err := s.generateSlots(ctx, cmd)
	s.finish(span, "generate slots", err, "provider_id", cmd.ProviderID)
	if err != nil {
		s.metrics.SlotCreated(Outcome(err))
		return nil, err
	}
	for range slots {
		s.metrics.SlotCreated(Outcome(nil))
	}
	span.SetAttributes(attribute.Int("slots.created", len(slots)))
	s.logger.Info("slots generated", "provider_id", cmd.ProviderID, "count", len(slots))
	return slots, nil
}

func (s *Service) generateSlots(ctx context.Context, cmd GenerateSlotsCommand) ([]model.Slot, error) {
	if cmd.Step == 0 {
		cmd.Step = cmd.Duration
	}
	if cmd.Duration <= 0 || cmd.Step < 0 || !cmd.WindowEnd.After(cmd.WindowStart) || cmd.WindowEnd.Sub(cmd.WindowStart) > maxGenerateWindow {
		return nil, ErrInvalidWindow
	}
	unlock, err := s.acquire(ctx, scopeProvider, cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var created []model.Slot
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		existing, err := tx.Slots().ListByProvider(ctx, cmd.ProviderID, cmd.WindowStart, cmd.WindowEnd)
		if err != nil {
			return err
		}
		busy := make([]availability.Interval, 0, len(existing))
		for _, slot := range existing {
			busy = append(busy, availability.Interval{Start: slot.StartTime, End: slot.EndTime})
		}

		starts := availability.AvailableSlots(cmd.WindowStart, cmd.WindowEnd, cmd.Duration, cmd.Step, busy, s.now())
		for _, start := range starts {
			candidate := availability.Interval{Start: start, End: start.Add(cmd.Duration)}
			// with Step < Duration consecutive candidates overlap each other
			if availability.OverlapsAny(candidate, busy) {
				continue
			}
			slot, err := s.insertSlot(ctx, tx, cmd.ProviderID, time.Time{}, candidate.Start, candidate.End)
			if err != nil {
				return err
			}
			busy = append(busy, candidate)
			created = append(created, slot)
		}
		return nil
	})
	if storage.IsOverlap(err) {
		return nil, ErrSlotOverlap
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateAppointment books slotID for clientID. Concurrent callers for the same
// slot get exactly one success; the rest fail with ErrSlotUnavailable.
func (s *Service) CreateAppointment(ctx context.Context, clientID, slotID string) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateAppointment", trace.WithAttributes(
		attribute.String("client.id", clientID),
		attribute.String("slot.id", slotID),
	))
	defer span.End()

	appt, err := s.createAppointment(ctx, clientID, slotID)
	s.metrics.Booking(Outcome(err))
	s.finish(span, "create appointment", err, "slot_id", slotID, "client_id", clientID)
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment booked", "appointment_id", appt.ID, "slot_id", slotID, "client_id", clientID)
	return appt, nil
}

func (s *Service) createAppointment(ctx context.Context, clientID, slotID string) (model.Appointment, error) {
	unlock, err := s.acquire(ctx, scopeSlot, slotID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer unlock()

	var created model.Appointment
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		slot, err := tx.Slots().FindByID(ctx, slotID)
		if storage.IsNotFound(err) {
			return ErrSlotNotFound
		}
		if err != nil {
			return err
		}
		if !slot.IsAvailable() {
			return ErrSlotUnavailable
		}

		now := s.now()
		appt := model.NewAppointment(s.newID(), clientID, slotID, now)
		if err := slot.Book(now); err != nil {
			return ErrSlotUnavailable
		}
		if appt, err = tx.Appointments().Create(ctx, appt); err != nil {
			return err
		}
		if slot, err = tx.Slots().Update(ctx, slot); err != nil {
			return err
		}
		created = appt
		return appendEvent(ctx, tx, outbox.AggregateAppointment, appt.ID, outbox.EventAppointmentBooked, newAppointmentPayload(appt, &slot, now))
	})
	if storage.IsConflict(err) {
		return model.Appointment{}, ErrSlotUnavailable
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return created, nil
}

// CancelAppointment cancels the caller's appointment and releases its slot.
// A slot that no longer exists is skipped. The appointment is written last.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID, clientID string) error {
	ctx, span := s.tracer.Start(ctx, "booking.CancelAppointment", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID),
		attribute.String("client.id", clientID),
	))
	defer span.End()

	err := s.cancelAppointment(ctx, appointmentID, clientID)
	s.metrics.Cancellation(Outcome(err))
	s.finish(span, "cancel appointment", err, "appointment_id", appointmentID, "client_id", clientID)
	if err != nil {
		return err
	}
	s.logger.Info("appointment cancelled", "appointment_id", appointmentID, "client_id", clientID)
	return nil
}

func (s *Service) cancelAppointment(ctx context.Context, appointmentID, clientID string) error {
	var err error
	for attempt := 1; attempt <= maxCancelAttempts; attempt++ {
		err = s.cancelOnce(ctx, appointmentID, clientID)
		if !storage.IsConflict(err) {
			return err
		}
		s.logger.Debug("cancel lost a version race, retrying", "appointment_id", appointmentID, "attempt", attempt)
	}
	return err
}

func (s *Service) cancelOnce(ctx context.Context, appointmentID, clientID string) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		appt, err := tx.Appointments().FindByID(ctx, appointmentID)
		if storage.IsNotFound(err) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return err
		}
		if appt.ClientID != clientID {
			return ErrUnauthorized
		}
		now := s.now()
		if err := appt.Cancel(now); err != nil {
			return err
		}

		var released *model.Slot
		slot, err := tx.Slots().FindByID(ctx, appt.SlotID)
		switch {
		case storage.IsNotFound(err):
			s.logger.Warn("cancelling appointment whose slot no longer exists", "appointment_id", appt.ID, "slot_id", appt.SlotID)
		case err != nil:
			return err
		case slot.IsAvailable():
			s.logger.Warn("slot already available while cancelling its appointment", "appointment_id", appt.ID, "slot_id", slot.ID)
		default:
			if err := slot.Release(now); err != nil {
				return err
			}
			if slot, err = tx.Slots().Update(ctx, slot); err != nil {
				return err
			}
			released = &slot
		}

		if _, err := tx.Appointments().Update(ctx, appt); err != nil {
			return err
		}
		return appendEvent(ctx, tx, outbox.AggregateAppointment, appt.ID, outbox.EventAppointmentCancelled, newAppointmentPayload(appt, released, now))
	})
}

func (s *Service) GetSlot(ctx context.Context, slotID string) (model.Slot, error) {
	var slot model.Slot
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		slot, err = tx.Slots().FindByID(ctx, slotID)
		return err
	})
	if storage.IsNotFound(err) {
		return model.Slot{}, ErrSlotNotFound
	}
	return slot, err
}

// ListProviderSlots returns the provider's slots intersecting [from, to) in start order.
func (s *Service) ListProviderSlots(ctx context.Context, providerID string, from, to time.Time) ([]model.Slot, error) {
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}
	var slots []model.Slot
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		slots, err = tx.Slots().ListByProvider(ctx, providerID, from, to)
		return err
	})
	return slots, err
}

// ListClientAppointments returns the client's newest appointments first.
func (s *Service) ListClientAppointments(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	var appts []model.Appointment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		appts, err = tx.Appointments().ListByClient(ctx, clientID, limit)
		return err
	})
	return appts, err
}

func (s *Service) acquire(ctx context.Context, scope, id string) (lock.Unlock, error) {
	started := time.Now()
	unlock, err := s.locker.Lock(ctx, scope+":"+id)
	s.metrics.ObserveLockWait(scope, time.Since(started))
	return unlock, err
}

// finish records err on the span and logs failures that are not the caller's fault.
func (s *Service) finish(span trace.Span, op string, err error, attrs ...any) {
	if err == nil {
		return
	}
	outcome := Outcome(err)
	span.SetAttributes(attribute.String("booking.outcome", outcome))
	if outcome != "error" {
		s.logger.Debug(op+" rejected", append(attrs, "outcome", outcome)...)
		return
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Warn(op+" cancelled by caller", attrs...)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error(op+" failed", append(attrs, "err", err)...)
}
