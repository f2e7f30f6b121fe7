// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueLength tracks the number of DJs currently in the rotation queue,
	// including the lead.
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onair_queue_length",
		Help: "Number of users in the rotation queue (head included)",
	})

	// SwitchesTotal counts completed stream switches by trigger.
	SwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_switches_total",
		Help: "Total number of stream switches by trigger",
	}, []string{"trigger"})

	// ForwardDecisions counts ingest hook outcomes.
	ForwardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_forward_decisions_total",
		Help: "Ingest hook decisions by action and outcome",
	}, []string{"action", "decision"})

	// SnapshotPersistFailures counts failed queue snapshot writes.
	SnapshotPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onair_queue_snapshot_persist_failures_total",
		Help: "Total number of failed queue snapshot writes",
	})
)

// RecordQueueLength updates the queue length gauge.
func RecordQueueLength(n int) {
	QueueLength.Set(float64(n))
}

// IncSwitch records a completed switch ("timer", "unpublish" or "manual").
func IncSwitch(trigger string) {
	SwitchesTotal.WithLabelValues(trigger).Inc()
}

// IncForwardDecision records an ingest hook outcome.
func IncForwardDecision(action, decision string) {
	ForwardDecisions.WithLabelValues(action, decision).Inc()
}
