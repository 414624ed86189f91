// Package metrics exposes Prometheus instruments for operation metadata
// publication and snapshot reads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "currentop"

// Collector groups the instruments. A nil *Collector is valid and records nothing,
// which lets library users and tests opt out.
type Collector struct {
	registrations     prometheus.Counter
	truncations       prometheus.Counter
	malformedSessions prometheus.Counter
	readRetries       prometheus.Counter
	unavailable       prometheus.Counter
	terminations      *prometheus.CounterVec
	activeOperations  prometheus.Gauge
	snapshotDuration  prometheus.Histogram
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Operation metadata records published by workers.",
		}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_commands_total",
			Help:      "Published commands larger than the slot command buffer.",
		}),
		malformedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_session_ids_total",
			Help:      "Commands whose session identifier could not be encoded and was stored empty.",
		}),
		readRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_read_retries_total",
			Help:      "Slot copies discarded because a write was in flight.",
		}),
		unavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_unavailable_total",
			Help:      "Slots reported unavailable after exhausting read retries.",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminate_requests_total",
			Help:      "Terminate requests by outcome.",
		}, []string{"outcome"}),
		activeOperations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_operations",
			Help:      "Active operations seen by the most recent snapshot.",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time to sweep every worker slot.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.truncations,
		c.malformedSessions,
		c.readRetries,
		c.unavailable,
		c.terminations,
		c.activeOperations,
		c.snapshotDuration,
	)
	return c
}

// Registered counts one published record.
func (c *Collector) Registered(truncated, malformedSession bool) {
	if c == nil {
		return
	}
	c.registrations.Inc()
	if truncated {
		c.truncations.Inc()
	}
	if malformedSession {
		c.malformedSessions.Inc()
	}
}

// ReadRetried counts discarded slot copies.
func (c *Collector) ReadRetried(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.readRetries.Add(float64(n))
}

// Unavailable counts one slot that exhausted its retries.
func (c *Collector) Unavailable() {
	if c == nil {
		return
	}
	c.unavailable.Inc()
}

// Terminated counts one terminate request with its outcome label.
func (c *Collector) Terminated(outcome string) {
	if c == nil {
		return
	}
	c.terminations.WithLabelValues(outcome).Inc()
}

// SnapshotTaken records the size and duration of a completed sweep.
func (c *Collector) SnapshotTaken(active int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.activeOperations.Set(float64(active))
	c.snapshotDuration.Observe(elapsed.Seconds())
}
