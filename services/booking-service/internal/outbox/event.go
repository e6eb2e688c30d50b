package outbox

import "time"

const (
	AggregateSlot        = "slot"
	AggregateAppointment = "appointment"

	EventSlotCreated          = "booking.slot.created.v1"
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// Event is the domain event envelope written to the outbox in the same
// transaction as the state change it describes. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

// Record is a stored event awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
