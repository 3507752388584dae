package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

type fakeStore struct {
	requests  map[string]*buildrequest.Request
	results   map[string]*jobstore.Result
	jobs      map[string]*jobstore.Job
	queueLen  int
	positions map[string]int
	counters  map[string]int64
	cache     map[string]json.RawMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:  map[string]*buildrequest.Request{},
		results:   map[string]*jobstore.Result{},
		jobs:      map[string]*jobstore.Job{},
		positions: map[string]int{},
		counters:  map[string]int64{},
		cache:     map[string]json.RawMessage{},
	}
}

func (f *fakeStore) GetResult(ctx context.Context, fingerprint string) (*jobstore.Result, error) {
	if r, ok := f.results[fingerprint]; ok {
		return r, nil
	}
	return nil, jobstore.ErrNotFound
}

func (f *fakeStore) GetJob(ctx context.Context, fingerprint string) (*jobstore.Job, error) {
	if j, ok := f.jobs[fingerprint]; ok {
		return j, nil
	}
	return nil, jobstore.ErrNotFound
}

func (f *fakeStore) QueueLength(ctx context.Context) (int, error) { return f.queueLen, nil }

func (f *fakeStore) QueuePosition(ctx context.Context, fingerprint string) (int, error) {
	return f.positions[fingerprint], nil
}

func (f *fakeStore) Enqueue(ctx context.Context, fingerprint string, maxPending int) (jobstore.EnqueueOutcome, error) {
	if f.queueLen >= maxPending {
		return jobstore.EnqueueFull, nil
	}
	f.queueLen++
	f.positions[fingerprint] = f.queueLen
	f.jobs[fingerprint] = &jobstore.Job{Fingerprint: fingerprint, Status: jobstore.StatusPending, QueuePosition: f.queueLen}
	return jobstore.EnqueueNew, nil
}

func (f *fakeStore) GetRequest(ctx context.Context, fingerprint string) (*buildrequest.Request, error) {
	req, ok := f.requests[fingerprint]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return req, nil
}

func (f *fakeStore) PutRequest(ctx context.Context, req *buildrequest.Request) error {
	f.requests[req.RequestHash] = req
	return nil
}

func (f *fakeStore) Counters(ctx context.Context) (map[string]int64, error) { return f.counters, nil }

func (f *fakeStore) IncrCounter(ctx context.Context, name string, delta int64) error {
	f.counters[name] += delta
	return nil
}

func (f *fakeStore) GetProbeCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	v, ok := f.cache[key]
	return v, ok, nil
}

func (f *fakeStore) PutProbeCache(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	f.cache[key] = value
	return nil
}

type fakeDriver struct{ infoOut string }

func (d *fakeDriver) ImageExists(ctx context.Context, tag string) (bool, error) { return true, nil }
func (d *fakeDriver) Pull(ctx context.Context, tag string) error                { return nil }
func (d *fakeDriver) Run(ctx context.Context, tag string, command []string, env []string, mounts []container.Mount, workdir string, timeout time.Duration) (container.RunResult, error) {
	return container.RunResult{ExitCode: 0, CombinedOutput: d.infoOut}, nil
}

func newTestServer(store *fakeStore) *Server {
	metrics := stats.New(prometheus.NewRegistry(), store)
	return NewServer(store, &fakeDriver{infoOut: "Default Packages: base-files libc"}, metrics, Options{
		Limits:               buildrequest.Limits{AllowDefaults: true, MaxDefaultsLength: 1024, MaxCustomRootFSMB: 512},
		MaxPendingJobs:       10,
		ImageBuilderRegistry: "ghcr.io/openwrt/imagebuilder",
		ProbeTimeout:         5 * time.Second,
	})
}

func TestSubmitQueuesNewRequest(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	h := srv.Handler("")

	body, _ := json.Marshal(map[string]any{
		"distribution": "openwrt",
		"version":      "23.05.0",
		"target":       "ath79",
		"subtarget":    "generic",
		"profile":      "tplink_archer-a7-v5",
		"packages":     []string{"luci"},
	})

	req := httptest.NewRequest(http.MethodPost, "/build", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var env buildEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "pending", env.Status)
	assert.Equal(t, 1, env.QueuePosition)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	h := srv.Handler("")

	body, _ := json.Marshal(map[string]any{
		"distribution": "openwrt",
		"version":      "not-a-version",
		"target":       "ath79",
		"subtarget":    "generic",
		"profile":      "tplink_archer-a7-v5",
	})

	req := httptest.NewRequest(http.MethodPost, "/build", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusReturns404ForUnknownFingerprint(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	h := srv.Handler("")

	req := httptest.NewRequest(http.MethodGet, "/build/deadbeef", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrepareReturnsResolvedPackages(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	h := srv.Handler("")

	body, _ := json.Marshal(map[string]any{
		"distribution": "openwrt",
		"version":      "23.05.0",
		"target":       "ath79",
		"subtarget":    "generic",
		"profile":      "tplink_archer-a7-v5",
		"packages":     []string{"luci"},
	})

	req := httptest.NewRequest(http.MethodPost, "/build/prepare", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp prepareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "prepared", resp.Status)
	assert.Contains(t, resp.ResolvedPackages, "luci")
	assert.Contains(t, resp.ResolvedPackages, "base-files")
}

func TestStatsReturnsQueueLength(t *testing.T) {
	store := newFakeStore()
	store.queueLen = 2
	srv := newTestServer(store)
	h := srv.Handler("")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.QueueLength)
}
