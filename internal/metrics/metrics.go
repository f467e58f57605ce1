package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	BookingsTotal        *prometheus.CounterVec
	CancellationsTotal   *prometheus.CounterVec
	ReschedulesTotal     *prometheus.CounterVec
	PromotionsTotal      prometheus.Counter
	DeadWaitlistEntries  prometheus.Counter
	SlotLockContention   prometheus.Counter
	CompensationFailures prometheus.Counter

	StatsCacheHits   prometheus.Counter
	StatsCacheMisses prometheus.Counter

	NotificationsSent    prometheus.Counter
	NotificationsFailed  prometheus.Counter
	NotificationsDropped prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector registers every metric on a private registry so tests can
// build as many collectors as they like.
func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		BookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking requests by outcome (BOOKED, QUEUED, ALREADY_QUEUED, error).",
		}, []string{"outcome"}),

		CancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancellations by the status the appointment held before cancelling.",
		}, []string{"previous_status"}),

		ReschedulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "reschedules_total",
			Help:      "Reschedules by resulting status.",
		}, []string{"outcome"}),

		PromotionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "waitlist",
			Name:      "promotions_total",
			Help:      "Waitlisted users promoted to a freed slot.",
		}),

		DeadWaitlistEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "waitlist",
			Name:      "dead_entries_skipped_total",
			Help:      "Waitlist entries discarded during promotion because the user no longer exists.",
		}),

		SlotLockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "slot_lock_contention_total",
			Help:      "Requests rejected because a slot lock could not be acquired in time.",
		}),

		CompensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "waitlist",
			Name:      "compensation_failures_total",
			Help:      "Waitlist changes that could not be undone after an aborted transaction. Alert if non-zero.",
		}),

		StatsCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "stats",
			Name:      "cache_hits_total",
			Help:      "Dashboard statistics served from cache.",
		}),

		StatsCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "stats",
			Name:      "cache_misses_total",
			Help:      "Dashboard statistics recomputed from the database.",
		}),

		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notifications handed to the transport.",
		}),

		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notify",
			Name:      "failed_total",
			Help:      "Notifications the transport rejected.",
		}),

		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the in-memory buffer was full.",
		}),
	}

	reg.MustRegister(
		c.RequestsTotal, c.RequestDuration, c.InFlightGauge,
		c.BookingsTotal, c.CancellationsTotal, c.ReschedulesTotal,
		c.PromotionsTotal, c.DeadWaitlistEntries, c.SlotLockContention, c.CompensationFailures,
		c.StatsCacheHits, c.StatsCacheMisses,
		c.NotificationsSent, c.NotificationsFailed, c.NotificationsDropped,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
