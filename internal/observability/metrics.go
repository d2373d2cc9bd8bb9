package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveStreams        prometheus.Gauge
	StreamEvents         *prometheus.CounterVec
	Deliveries           *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter
	DeliveryLatency      prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of reply streams currently being relayed.",
		}),
		StreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Stream lifecycle events by type.",
		}, []string{"event"}),
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Channel delivery calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		DuplicatesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_suppressed_total",
			Help:      "Final payloads dropped by the duplicate-suppression cache.",
		}),
		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_ms",
			Help:      "Latency of individual channel create/update calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3200},
		}),
	}
}

func (m *Metrics) ObserveDeliveryLatency(d time.Duration) {
	m.DeliveryLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
