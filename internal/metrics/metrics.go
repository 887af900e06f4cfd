package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	BookingsTotal     *prometheus.CounterVec
	SlotsProjected    prometheus.Counter
	RemindersEmitted  prometheus.Counter
	CreditTransfers   prometheus.Counter
	VideoSessionsOpen prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		BookingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome (booked, conflict, rejected, error).",
		}, []string{"outcome"}),

		SlotsProjected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "slots_projected_total",
			Help:      "Total bookable slots emitted by the availability projector.",
		}),

		RemindersEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "reminder",
			Name:      "emitted_total",
			Help:      "Total appointment reminders emitted by the worker.",
		}),

		CreditTransfers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "credits",
			Name:      "transfers_total",
			Help:      "Total completed credit transfers.",
		}),

		VideoSessionsOpen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "video",
			Name:      "sessions_created_total",
			Help:      "Total video sessions provisioned.",
		}),
	}
}

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
