package queue

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
	"github.com/openwrt-firmware/imagebuilder-core/internal/orchestrator"
	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

// WorkerStore is the narrow slice of internal/jobstore.Store a worker
// fiber needs to claim and finish jobs.
type WorkerStore interface {
	ClaimPending(ctx context.Context, workerID string) (*jobstore.Job, error)
	GetRequest(ctx context.Context, fingerprint string) (*buildrequest.Request, error)
	Complete(ctx context.Context, fingerprint, buildCommand string) error
	Fail(ctx context.Context, fingerprint, errMsg string) error
	PutResult(ctx context.Context, result *jobstore.Result) error
}

// Builder is the narrow slice of internal/orchestrator.Orchestrator a
// worker needs.
type Builder interface {
	Build(ctx context.Context, req *buildrequest.Request, fingerprint string, skipResolve bool) orchestrator.Outcome
}

// worker is one of the N fibers the dispatcher owns: it mints its own
// ksuid identity once (named the same way a build worker's sessions are —
// worker.Server sessions carry a k-sortable id) and then loops claim ->
// build -> finish until its context is cancelled.
type worker struct {
	id      string
	store   WorkerStore
	builder Builder
	metrics *stats.Collector
	log     *logrus.Entry
}

func newWorker(store WorkerStore, builder Builder, metrics *stats.Collector) *worker {
	id := ksuid.New().String()
	return &worker{
		id:      id,
		store:   store,
		builder: builder,
		metrics: metrics,
		log:     logrus.WithFields(logrus.Fields{"component": "worker", "worker_id": id}),
	}
}

// tick claims at most one job and runs it to completion. It returns
// whether it actually claimed work, so run can decide whether to poll
// again immediately or wait for the next tick.
func (w *worker) tick(ctx context.Context) bool {
	job, err := w.store.ClaimPending(ctx, w.id)
	if err != nil {
		w.log.WithError(err).Error("claim_pending failed")
		return false
	}
	if job == nil {
		return false
	}

	log := w.log.WithField("fingerprint", job.Fingerprint)
	log.Info("claimed job")

	req, err := w.store.GetRequest(ctx, job.Fingerprint)
	if err != nil {
		log.WithError(err).Error("could not load request for claimed job")
		_ = w.store.Fail(ctx, job.Fingerprint, "internal: request record missing")
		w.metrics.RecordTerminal(ctx, string(jobstore.StatusFailed))
		return true
	}

	outcome := w.builder.Build(ctx, req, job.Fingerprint, false)
	if outcome.Failed {
		log.WithField("reason", outcome.ErrMsg).Warn("build failed")
		if err := w.store.Fail(ctx, job.Fingerprint, outcome.ErrMsg); err != nil {
			log.WithError(err).Error("failed to record FAILED transition")
		}
		w.metrics.RecordTerminal(ctx, string(jobstore.StatusFailed))
		return true
	}

	if err := w.store.PutResult(ctx, &outcome.Result); err != nil {
		log.WithError(err).Error("failed to persist result")
		_ = w.store.Fail(ctx, job.Fingerprint, "internal: result persistence failed")
		w.metrics.RecordTerminal(ctx, string(jobstore.StatusFailed))
		return true
	}
	if err := w.store.Complete(ctx, job.Fingerprint, outcome.BuildCommand); err != nil {
		log.WithError(err).Error("failed to record COMPLETED transition")
	}
	w.metrics.RecordTerminal(ctx, string(jobstore.StatusCompleted))
	log.Info("build completed")
	return true
}

// run loops tick() on poll, until ctx is cancelled. When tick() claims
// nothing it waits a full poll interval; when it does claim work it
// checks again immediately, so a deep backlog drains at full concurrency
// rather than one job per tick.
func (w *worker) run(ctx context.Context, poll time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.tick(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}
