// Package stats implements C9: the per-event counters and queue-length
// gauge the stats() operation exposes, backed by
// prometheus/client_golang the way metrics are wired into its
// echo routes (see internal/api's MetricsMiddleware, grounded on
// osbuild-composer's internal/prometheus.MetricsMiddleware).
package stats

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the process-wide Prometheus metrics and mirrors the
// same counts into the job store's durable counter table so stats()
// survives a restart.
type Collector struct {
	submitted   *prometheus.CounterVec
	terminal    *prometheus.CounterVec
	queueLength prometheus.Gauge
	durable     DurableCounters
}

// DurableCounters is the narrow slice of internal/jobstore.Store that
// Collector needs to persist counters across restarts.
type DurableCounters interface {
	IncrCounter(ctx context.Context, name string, delta int64) error
	Counters(ctx context.Context) (map[string]int64, error)
}

// New registers the collector's metrics against reg. Passing
// prometheus.DefaultRegisterer matches how most of the pack's services
// expose a bare /metrics endpoint.
func New(reg prometheus.Registerer, durable DurableCounters) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "owbuild",
			Name:      "requests_submitted_total",
			Help:      "Build requests accepted at the API boundary, by outcome.",
		}, []string{"outcome"}),
		terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "owbuild",
			Name:      "jobs_terminal_total",
			Help:      "Jobs that reached a terminal state, by status.",
		}, []string{"status"}),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "owbuild",
			Name:      "queue_length",
			Help:      "Current count of PENDING jobs.",
		}),
		durable: durable,
	}
}

// RecordSubmit records one submit() outcome: cache-hit,
// in-flight, queued, or rejected.
func (c *Collector) RecordSubmit(ctx context.Context, outcome string) {
	c.submitted.WithLabelValues(outcome).Inc()
	_ = c.durable.IncrCounter(ctx, "submit_"+outcome, 1)
}

// RecordTerminal records exactly one terminal transition per job, per
// a job's "updated exactly once per terminal transition" rule.
func (c *Collector) RecordTerminal(ctx context.Context, status string) {
	c.terminal.WithLabelValues(status).Inc()
	_ = c.durable.IncrCounter(ctx, "terminal_"+status, 1)
}

// SetQueueLength updates the live gauge; callers sample this from the
// job store on each dispatcher tick.
func (c *Collector) SetQueueLength(n int) {
	c.queueLength.Set(float64(n))
}

// Snapshot is the JSON body the stats() operation returns.
type Snapshot struct {
	QueueLength int              `json:"queue_length"`
	Counters    map[string]int64 `json:"counters"`
}

// Snapshot reads the durable counters and combines them with the current
// queue length for the stats() response.
func (c *Collector) Snapshot(ctx context.Context, queueLength int) (Snapshot, error) {
	counters, err := c.durable.Counters(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{QueueLength: queueLength, Counters: counters}, nil
}
