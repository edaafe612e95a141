package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of currently open chat connections.",
		},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_frames_total",
			Help: "Total number of frames received from clients.",
		},
		[]string{"type"},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Total number of message deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	authFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		activeConnections,
		framesTotal,
		deliveriesTotal,
		authFailuresTotal,
	)
}

func IncActive() {
	activeConnections.Inc()
}

func DecActive() {
	activeConnections.Dec()
}

func IncFrame(frameType string) {
	framesTotal.WithLabelValues(frameType).Inc()
}

// IncDelivery records a delivery outcome: "live" when pushed to a connected
// peer, "queued" when the persisted row is the sole delivery path.
func IncDelivery(outcome string) {
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

func IncAuthFailure() {
	authFailuresTotal.Inc()
}

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
