package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

// Dispatcher owns N worker fibers. Concurrency is bounded
// by a weighted semaphore rather than a fixed-size goroutine pool so the
// same primitive could size a shared resource pool in the future without
// restructuring the worker loop — the pattern is grounded on moby's own
// build worker, which sizes its parallelism the same way.
type Dispatcher struct {
	sem     *semaphore.Weighted
	store   WorkerStore
	builder Builder
	metrics *stats.Collector
	poll    time.Duration
	n       int64
	log     *logrus.Entry
}

// New builds a Dispatcher configured for n concurrent workers, polling
// for PENDING work every poll.
func New(store WorkerStore, builder Builder, metrics *stats.Collector, n int, poll time.Duration) *Dispatcher {
	if n < 1 {
		n = 1
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(n)),
		store:   store,
		builder: builder,
		metrics: metrics,
		poll:    poll,
		n:       int64(n),
		log:     logrus.WithField("component", "dispatcher"),
	}
}

// queueLengthReporter is implemented by stores that can report the
// current PENDING backlog depth. The monolithic jobstore.Store does; the
// split-deployment worker's workerapi.Client does not, since in that
// deployment the server process is the one that owns handleStats and
// reports the gauge — a worker-only process has no reason to poll its
// own backlog depth just to set a metric nothing there scrapes.
type queueLengthReporter interface {
	QueueLength(ctx context.Context) (int, error)
}

// reportQueueLength samples the PENDING backlog once per poll interval
// and keeps the owbuild_queue_length gauge live between /stats calls,
// so a Prometheus scrape sees current depth even with no API traffic.
func (d *Dispatcher) reportQueueLength(ctx context.Context, reporter queueLengthReporter) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := reporter.QueueLength(ctx); err == nil {
				d.metrics.SetQueueLength(n)
			}
		}
	}
}

// Run starts n worker fibers and blocks until ctx is cancelled, at which
// point every worker finishes its current job (if any) and returns —
// a process-level shutdown canceling all outstanding builds, but
// the orchestrator's own per-job context still owns that cancellation, so
// Run itself just waits for the fibers to notice ctx.Done and exit their
// poll loops.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.WithField("workers", d.n).Info("starting dispatcher")

	if reporter, ok := d.store.(queueLengthReporter); ok {
		go d.reportQueueLength(ctx, reporter)
	}

	var wg sync.WaitGroup
	for i := int64(0); i < d.n; i++ {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			w := newWorker(d.store, d.builder, d.metrics)
			w.run(ctx, d.poll)
		}()
	}
	wg.Wait()
	d.log.Info("dispatcher stopped")
}
