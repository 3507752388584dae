package queue

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
	"github.com/openwrt-firmware/imagebuilder-core/internal/orchestrator"
	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

type fakeWorkerStore struct {
	pending    []*jobstore.Job
	requests   map[string]*buildrequest.Request
	completed  []string
	failed     []string
	results    []*jobstore.Result
}

func (f *fakeWorkerStore) ClaimPending(ctx context.Context, workerID string) (*jobstore.Job, error) {
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.WorkerID = workerID
	return job, nil
}

func (f *fakeWorkerStore) GetRequest(ctx context.Context, fingerprint string) (*buildrequest.Request, error) {
	req, ok := f.requests[fingerprint]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return req, nil
}

func (f *fakeWorkerStore) Complete(ctx context.Context, fingerprint, buildCommand string) error {
	f.completed = append(f.completed, fingerprint)
	return nil
}

func (f *fakeWorkerStore) Fail(ctx context.Context, fingerprint, errMsg string) error {
	f.failed = append(f.failed, fingerprint)
	return nil
}

func (f *fakeWorkerStore) PutResult(ctx context.Context, result *jobstore.Result) error {
	f.results = append(f.results, result)
	return nil
}

type fakeBuilder struct {
	outcome orchestrator.Outcome
}

func (f *fakeBuilder) Build(ctx context.Context, req *buildrequest.Request, fingerprint string, skipResolve bool) orchestrator.Outcome {
	out := f.outcome
	out.Result.Fingerprint = fingerprint
	return out
}

type fakeDurableCounters struct {
	counts map[string]int64
}

func (f *fakeDurableCounters) IncrCounter(ctx context.Context, name string, delta int64) error {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[name] += delta
	return nil
}

func (f *fakeDurableCounters) Counters(ctx context.Context) (map[string]int64, error) {
	return f.counts, nil
}

func TestWorkerTickCompletesSuccessfulBuild(t *testing.T) {
	store := &fakeWorkerStore{
		pending:  []*jobstore.Job{{Fingerprint: "fp1"}},
		requests: map[string]*buildrequest.Request{"fp1": {Version: "23.05.0"}},
	}
	builder := &fakeBuilder{outcome: orchestrator.Outcome{BuildCommand: "make image"}}
	metrics := stats.New(prometheus.NewRegistry(), &fakeDurableCounters{})

	w := newWorker(store, builder, metrics)
	claimed := w.tick(context.Background())

	require.True(t, claimed)
	assert.Equal(t, []string{"fp1"}, store.completed)
	assert.Len(t, store.results, 1)
	assert.Empty(t, store.failed)
}

func TestWorkerTickFailsOnBuildFailure(t *testing.T) {
	store := &fakeWorkerStore{
		pending:  []*jobstore.Job{{Fingerprint: "fp2"}},
		requests: map[string]*buildrequest.Request{"fp2": {Version: "23.05.0"}},
	}
	builder := &fakeBuilder{outcome: orchestrator.Outcome{Failed: true, ErrMsg: "build: exit 1"}}
	metrics := stats.New(prometheus.NewRegistry(), &fakeDurableCounters{})

	w := newWorker(store, builder, metrics)
	claimed := w.tick(context.Background())

	require.True(t, claimed)
	assert.Equal(t, []string{"fp2"}, store.failed)
	assert.Empty(t, store.completed)
}

func TestWorkerTickReturnsFalseWhenNothingPending(t *testing.T) {
	store := &fakeWorkerStore{}
	builder := &fakeBuilder{}
	metrics := stats.New(prometheus.NewRegistry(), &fakeDurableCounters{})

	w := newWorker(store, builder, metrics)
	assert.False(t, w.tick(context.Background()))
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	store := &fakeWorkerStore{}
	builder := &fakeBuilder{}
	metrics := stats.New(prometheus.NewRegistry(), &fakeDurableCounters{})
	d := New(store, builder, metrics, 2, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after context cancellation")
	}
}
