package stats

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDurable struct {
	counters map[string]int64
}

func newFakeDurable() *fakeDurable { return &fakeDurable{counters: map[string]int64{}} }

func (f *fakeDurable) IncrCounter(ctx context.Context, name string, delta int64) error {
	f.counters[name] += delta
	return nil
}

func (f *fakeDurable) Counters(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(f.counters))
	for k, v := range f.counters {
		out[k] = v
	}
	return out, nil
}

func TestRecordSubmitIncrementsDurableCounter(t *testing.T) {
	durable := newFakeDurable()
	c := New(prometheus.NewRegistry(), durable)

	c.RecordSubmit(context.Background(), "queued")
	c.RecordSubmit(context.Background(), "queued")
	c.RecordSubmit(context.Background(), "rejected")

	assert.Equal(t, int64(2), durable.counters["submit_queued"])
	assert.Equal(t, int64(1), durable.counters["submit_rejected"])
}

func TestSnapshotIncludesQueueLength(t *testing.T) {
	durable := newFakeDurable()
	c := New(prometheus.NewRegistry(), durable)
	c.RecordTerminal(context.Background(), "COMPLETED")

	snap, err := c.Snapshot(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.QueueLength)
	assert.Equal(t, int64(1), snap.Counters["terminal_COMPLETED"])
}
