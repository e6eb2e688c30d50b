package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the booking service metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	SlotsCreatedTotal    *prometheus.CounterVec
	BookingsTotal        *prometheus.CounterVec
	CancellationsTotal   *prometheus.CounterVec
	LockWaitSeconds      *prometheus.HistogramVec
	OutboxPublishedTotal prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	ns := namespace(serviceName)

	return &Collector{
		registry: reg,

		SlotsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "booking",
			Name:      "slots_created_total",
			Help:      "Slot creation attempts by outcome.",
		}, []string{"outcome"}),

		BookingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "booking",
			Name:      "appointments_booked_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),

		CancellationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "booking",
			Name:      "appointments_cancelled_total",
			Help:      "Cancellation attempts by outcome.",
		}, []string{"outcome"}),

		LockWaitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a keyed lock.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
		}, []string{"scope"}),

		OutboxPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to Kafka.",
		}),
	}
}

func (c *Collector) SlotCreated(outcome string) {
	if c == nil {
		return
	}
	c.SlotsCreatedTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) Booking(outcome string) {
	if c == nil {
		return
	}
	c.BookingsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) Cancellation(outcome string) {
	if c == nil {
		return
	}
	c.CancellationsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveLockWait(scope string, d time.Duration) {
	if c == nil {
		return
	}
	c.LockWaitSeconds.WithLabelValues(scope).Observe(d.Seconds())
}

func (c *Collector) OutboxPublished(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.OutboxPublishedTotal.Add(float64(n))
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// namespace turns a service name like "booking-service" into a valid metric prefix.
func namespace(serviceName string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(serviceName)
}
