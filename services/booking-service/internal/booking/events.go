package booking

import (
	"context"
	"encoding/json"
	"time"

	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type slotCreatedPayload struct {
	SlotID     string    `json:"slot_id"`
	ProviderID string    `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	OccurredAt time.Time `json:"occurred_at"`
}

type appointmentPayload struct {
	AppointmentID string     `json:"appointment_id"`
	ClientID      string     `json:"client_id"`
	SlotID        string     `json:"slot_id"`
	ProviderID    string     `json:"provider_id,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        string     `json:"status"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func newAppointmentPayload(appt model.Appointment, slot *model.Slot, at time.Time) appointmentPayload {
	p := appointmentPayload{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		SlotID:        appt.SlotID,
		Status:        string(appt.Status),
		OccurredAt:    at,
	}
	if slot != nil {
		start, end := slot.StartTime, slot.EndTime
		p.ProviderID = slot.ProviderID
		p.StartTime = &start
		p.EndTime = &end
	}
	return p
}

func appendEvent(ctx context.Context, tx storage.Tx, aggregateType, aggregateID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return tx.Events().Append(ctx, outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	})
}
