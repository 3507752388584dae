// Package jobstore implements C3, the durable job store: a map of
// fingerprint -> {request, latest job, result} with atomic read-modify
// -write transitions, backed by PostgreSQL via jackc/pgx.
package jobstore

import "time"

// Status is a BuildJob's position in its lifecycle: PENDING -> BUILDING ->
// {COMPLETED, FAILED}, never returning to a prior state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusBuilding  Status = "BUILDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Job is the queue entry for one fingerprint's most recent build attempt.
type Job struct {
	ID            int64
	Fingerprint   string
	Status        Status
	EnqueuedAt    time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	WorkerID      string
	QueuePosition int
	BuildCommand  string
	ErrorMessage  string
}

// Result is the cached artifact descriptor written exactly once per
// fingerprint.
type Result struct {
	Fingerprint   string
	Artifacts     []string
	Manifest      string
	BuiltAt       time.Time
	CacheHit      bool
	DurationSecs  float64
}

// IsTerminal reports whether status is a final state the job never leaves
// (it never returns to a prior state).
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EnqueueOutcome reports what enqueue(fingerprint) actually did; see the
// constants below.
type EnqueueOutcome string

const (
	EnqueueNew           EnqueueOutcome = "new"
	EnqueueAlreadyFlight EnqueueOutcome = "already-in-flight"
	EnqueueAlreadyBuilt  EnqueueOutcome = "already-built"
	EnqueueFull          EnqueueOutcome = "full"
)
