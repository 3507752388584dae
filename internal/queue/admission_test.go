package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
)

// fakeAdmissionStore mirrors jobstore.Store's atomicity: Enqueue holds mu
// for its whole check-then-insert so the fake is safe to drive from many
// goroutines, the same way a Postgres advisory lock makes the real
// Store's Enqueue transaction atomic.
type fakeAdmissionStore struct {
	mu        sync.Mutex
	results   map[string]*jobstore.Result
	jobs      map[string]*jobstore.Job
	queueLen  int
	positions map[string]int
	enqueued  []string
}

func newFakeAdmissionStore() *fakeAdmissionStore {
	return &fakeAdmissionStore{
		results:   map[string]*jobstore.Result{},
		jobs:      map[string]*jobstore.Job{},
		positions: map[string]int{},
	}
}

func (f *fakeAdmissionStore) GetResult(ctx context.Context, fingerprint string) (*jobstore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[fingerprint]; ok {
		return r, nil
	}
	return nil, jobstore.ErrNotFound
}

func (f *fakeAdmissionStore) GetJob(ctx context.Context, fingerprint string) (*jobstore.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[fingerprint]; ok {
		return j, nil
	}
	return nil, jobstore.ErrNotFound
}

func (f *fakeAdmissionStore) QueueLength(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queueLen, nil
}

func (f *fakeAdmissionStore) QueuePosition(ctx context.Context, fingerprint string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[fingerprint], nil
}

func (f *fakeAdmissionStore) Enqueue(ctx context.Context, fingerprint string, maxPending int) (jobstore.EnqueueOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.results[fingerprint]; ok && r != nil {
		return jobstore.EnqueueAlreadyBuilt, nil
	}
	if j, ok := f.jobs[fingerprint]; ok && !j.Status.IsTerminal() {
		return jobstore.EnqueueAlreadyFlight, nil
	}
	if f.queueLen >= maxPending {
		return jobstore.EnqueueFull, nil
	}

	f.enqueued = append(f.enqueued, fingerprint)
	f.queueLen++
	f.positions[fingerprint] = f.queueLen
	f.jobs[fingerprint] = &jobstore.Job{Fingerprint: fingerprint, Status: jobstore.StatusPending}
	return jobstore.EnqueueNew, nil
}

func TestAdmitCacheHit(t *testing.T) {
	store := newFakeAdmissionStore()
	store.results["fp1"] = &jobstore.Result{Fingerprint: "fp1"}

	decision, err := Admit(context.Background(), store, "fp1", 10)
	require.NoError(t, err)
	assert.Equal(t, "cache-hit", decision.Outcome)
}

func TestAdmitInFlight(t *testing.T) {
	store := newFakeAdmissionStore()
	store.jobs["fp2"] = &jobstore.Job{Fingerprint: "fp2", Status: jobstore.StatusBuilding}

	decision, err := Admit(context.Background(), store, "fp2", 10)
	require.NoError(t, err)
	assert.Equal(t, "in-flight", decision.Outcome)
}

func TestAdmitQueuesNewRequest(t *testing.T) {
	store := newFakeAdmissionStore()

	decision, err := Admit(context.Background(), store, "fp3", 10)
	require.NoError(t, err)
	assert.Equal(t, "queued", decision.Outcome)
	assert.Equal(t, 1, decision.QueuePosition)
	assert.Equal(t, []string{"fp3"}, store.enqueued)
}

func TestAdmitRejectsWhenQueueFull(t *testing.T) {
	store := newFakeAdmissionStore()
	store.queueLen = 5

	_, err := Admit(context.Background(), store, "fp4", 5)
	require.Error(t, err)
	var admErr *AdmissionError
	assert.ErrorAs(t, err, &admErr)
	assert.Empty(t, store.enqueued)
}

// TestAdmitConcurrentDistinctFingerprintsRespectsCap submits more distinct
// fingerprints concurrently than maxPending allows. Exactly maxPending
// must be admitted and the rest rejected, with no job record written for
// a rejected fingerprint — the backlog must never exceed maxPending even
// though every goroutine's Admit call races the others.
func TestAdmitConcurrentDistinctFingerprintsRespectsCap(t *testing.T) {
	t.Parallel()

	const maxPending = 5
	const submitted = 20

	store := newFakeAdmissionStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted, rejected int

	for i := 0; i < submitted; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fingerprint := fmt.Sprintf("fp-concurrent-%d", i)
			_, err := Admit(context.Background(), store, fingerprint, maxPending)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var admErr *AdmissionError
				require.ErrorAs(t, err, &admErr)
				rejected++
				return
			}
			admitted++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, maxPending, admitted)
	assert.Equal(t, submitted-maxPending, rejected)
	assert.Len(t, store.enqueued, maxPending)
	assert.LessOrEqual(t, store.queueLen, maxPending)
}
