// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CompositorRequests counts compositor RPCs by request type and outcome.
	CompositorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_compositor_requests_total",
		Help: "Total number of compositor RPCs by request type and outcome",
	}, []string{"request", "outcome"})

	// CompositorReconnects counts reconnect attempts against the compositor.
	CompositorReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_compositor_reconnects_total",
		Help: "Total number of compositor reconnect attempts by outcome",
	}, []string{"outcome"})

	// CompositorHealthy reflects whether the compositor client considers
	// itself connected and usable (1) or unhealthy (0).
	CompositorHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onair_compositor_healthy",
		Help: "Compositor client health flag (1 healthy, 0 unhealthy)",
	})

	// StreamHealthScore tracks the latest computed health score per source.
	StreamHealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "onair_stream_health_score",
		Help: "Latest stream health score per monitored source (0-100)",
	}, []string{"source"})
)

// IncCompositorRequest records the outcome of one compositor RPC.
func IncCompositorRequest(request, outcome string) {
	CompositorRequests.WithLabelValues(request, outcome).Inc()
}

// IncCompositorReconnect records a reconnect attempt outcome.
func IncCompositorReconnect(outcome string) {
	CompositorReconnects.WithLabelValues(outcome).Inc()
}

// SetCompositorHealthy updates the client health gauge.
func SetCompositorHealthy(healthy bool) {
	if healthy {
		CompositorHealthy.Set(1)
	} else {
		CompositorHealthy.Set(0)
	}
}

// RecordHealthScore updates the per-source health score gauge.
func RecordHealthScore(source string, score float64) {
	StreamHealthScore.WithLabelValues(source).Set(score)
}
