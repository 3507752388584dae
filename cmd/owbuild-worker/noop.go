package main

import (
	"context"
	"encoding/json"
	"time"
)

// noopDurableCounters discards counter writes; the split-deployment
// worker process has no job-store connection of its own to persist them
// into, so its *stats.Collector only drives its own process-local
// Prometheus registry.
type noopDurableCounters struct{}

func (noopDurableCounters) IncrCounter(ctx context.Context, name string, delta int64) error {
	return nil
}

func (noopDurableCounters) Counters(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

// noopProbeCache disables default-package memoization on the worker side;
// every claimed job runs `make info` fresh. The server-side prepare()
// path is the one that benefits from a durable, shared cache.
type noopProbeCache struct{}

func (noopProbeCache) GetProbeCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return nil, false, nil
}

func (noopProbeCache) PutProbeCache(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	return nil
}
