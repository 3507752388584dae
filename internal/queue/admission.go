// Package queue implements C4: admission control and the worker
// dispatcher that turns PENDING jobs into orchestrator runs.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
)

// AdmissionError reports a queue-full refusal. It carries no retry
// information; the caller surfaces it as a 429 at the API boundary.
type AdmissionError struct {
	QueueLength int
	MaxPending  int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("queue: full (%d/%d pending)", e.QueueLength, e.MaxPending)
}

// Store is the narrow slice of internal/jobstore.Store admission needs.
type Store interface {
	GetResult(ctx context.Context, fingerprint string) (*jobstore.Result, error)
	GetJob(ctx context.Context, fingerprint string) (*jobstore.Job, error)
	QueueLength(ctx context.Context) (int, error)
	QueuePosition(ctx context.Context, fingerprint string) (int, error)
	Enqueue(ctx context.Context, fingerprint string, maxPending int) (jobstore.EnqueueOutcome, error)
}

// Decision is what Admit reports back to the submit() operation: exactly
// one of a cache hit, an in-flight subscription, or a fresh admission.
type Decision struct {
	Outcome       string // "cache-hit", "in-flight", "queued"
	Result        *jobstore.Result
	Job           *jobstore.Job
	QueuePosition int
}

// Admit implements the admission rule: a request is admitted
// iff no cached result exists and the PENDING backlog is below maxPending.
// The backlog check and the insert happen inside Enqueue's own
// transaction, so concurrent submissions of distinct fingerprints can
// never together push the PENDING count past maxPending. Two concurrent
// identical submissions never double-enqueue either — the second becomes
// a subscriber to the job the first one created, so duplicate work is
// never scheduled twice for the same fingerprint.
func Admit(ctx context.Context, store Store, fingerprint string, maxPending int) (Decision, error) {
	if result, err := store.GetResult(ctx, fingerprint); err == nil {
		return Decision{Outcome: "cache-hit", Result: result}, nil
	} else if !errors.Is(err, jobstore.ErrNotFound) {
		return Decision{}, err
	}

	if job, err := store.GetJob(ctx, fingerprint); err == nil && !job.Status.IsTerminal() {
		return Decision{Outcome: "in-flight", Job: job, QueuePosition: job.QueuePosition}, nil
	} else if err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		return Decision{}, err
	}

	outcome, err := store.Enqueue(ctx, fingerprint, maxPending)
	if err != nil {
		return Decision{}, err
	}

	switch outcome {
	case jobstore.EnqueueFull:
		queueLen, lenErr := store.QueueLength(ctx)
		if lenErr != nil {
			queueLen = maxPending
		}
		return Decision{}, &AdmissionError{QueueLength: queueLen, MaxPending: maxPending}
	case jobstore.EnqueueAlreadyBuilt:
		result, err := store.GetResult(ctx, fingerprint)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: "cache-hit", Result: result}, nil
	case jobstore.EnqueueAlreadyFlight:
		job, err := store.GetJob(ctx, fingerprint)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: "in-flight", Job: job, QueuePosition: job.QueuePosition}, nil
	default:
		pos, err := store.QueuePosition(ctx, fingerprint)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: "queued", QueuePosition: pos}, nil
	}
}
