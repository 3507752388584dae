package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
)

// ErrNotFound is returned by the single-row lookups when no row matches.
var ErrNotFound = errors.New("jobstore: not found")

// Store is the durable map of fingerprint -> {request, latest job, result}
// needed to admit, claim, and finish jobs. Every mutating method is a single SQL
// statement or transaction, so the serializability and crash-safety
// job-lifecycle invariants fall out of PostgreSQL's own guarantees
// rather than an application-level lock.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// New connects to dsn and applies schema.sql.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: connect: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobstore: migrate: %w", err)
	}
	return &Store{pool: pool, log: logrus.WithField("component", "jobstore")}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// PutRequest idempotently inserts a canonical request; safe to call twice
// with the same fingerprint.
func (s *Store) PutRequest(ctx context.Context, req *buildrequest.Request) error {
	packages, err := json.Marshal(req.Packages)
	if err != nil {
		return err
	}
	pv, err := json.Marshal(req.PackagesVersions)
	if err != nil {
		return err
	}
	repos, err := json.Marshal(req.Repositories)
	if err != nil {
		return err
	}
	keys, err := json.Marshal(req.RepositoryKeys)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO requests (fingerprint, distribution, version, target, subtarget, profile,
			packages, packages_versions, diff_packages, defaults, rootfs_size_mb,
			repositories, repository_keys, client_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (fingerprint) DO NOTHING
	`, req.RequestHash, req.Distribution, req.Version, req.Target, req.Subtarget, req.Profile,
		packages, pv, req.DiffPackages, req.Defaults, req.RootFSSizeMB,
		repos, keys, req.ClientID, timeOrNow(req.CreatedAt))
	return err
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// GetRequest returns the canonical request stored for fingerprint, the
// way the worker loop reloads it before invoking the orchestrator (the
// job row itself only ever carries the fingerprint, never the full
// request body).
func (s *Store) GetRequest(ctx context.Context, fingerprint string) (*buildrequest.Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fingerprint, distribution, version, target, subtarget, profile,
			packages, packages_versions, diff_packages, defaults, rootfs_size_mb,
			repositories, repository_keys, client_id, created_at
		FROM requests WHERE fingerprint = $1
	`, fingerprint)

	var req buildrequest.Request
	var packages, pv, repos, keys []byte
	if err := row.Scan(&req.RequestHash, &req.Distribution, &req.Version, &req.Target, &req.Subtarget, &req.Profile,
		&packages, &pv, &req.DiffPackages, &req.Defaults, &req.RootFSSizeMB,
		&repos, &keys, &req.ClientID, &req.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(packages, &req.Packages); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pv, &req.PackagesVersions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(repos, &req.Repositories); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(keys, &req.RepositoryKeys); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetResult returns the terminal result for fingerprint, if any.
func (s *Store) GetResult(ctx context.Context, fingerprint string) (*Result, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fingerprint, artifacts, manifest, built_at, duration_secs
		FROM results WHERE fingerprint = $1
	`, fingerprint)

	var r Result
	var artifacts []byte
	if err := row.Scan(&r.Fingerprint, &artifacts, &r.Manifest, &r.BuiltAt, &r.DurationSecs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(artifacts, &r.Artifacts); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetJob returns the latest job for fingerprint.
func (s *Store) GetJob(ctx context.Context, fingerprint string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, fingerprint, status, enqueued_at, started_at, finished_at,
			worker_id, build_command, error_message
		FROM jobs WHERE fingerprint = $1
		ORDER BY id DESC LIMIT 1
	`, fingerprint)

	var j Job
	if err := row.Scan(&j.ID, &j.Fingerprint, &j.Status, &j.EnqueuedAt, &j.StartedAt, &j.FinishedAt,
		&j.WorkerID, &j.BuildCommand, &j.ErrorMessage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if j.Status == StatusPending {
		pos, err := s.QueuePosition(ctx, fingerprint)
		if err != nil {
			return nil, err
		}
		j.QueuePosition = pos
	}
	return &j, nil
}

// QueueLength returns the count of PENDING jobs.
func (s *Store) QueueLength(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = $1`, StatusPending).Scan(&n)
	return n, err
}

// QueuePosition returns the 1-based position of fingerprint's PENDING job
// among PENDING jobs admitted earlier.
func (s *Store) QueuePosition(ctx context.Context, fingerprint string) (int, error) {
	var pos int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) + 1 FROM jobs
		WHERE status = $1 AND enqueued_at < (
			SELECT enqueued_at FROM jobs WHERE fingerprint = $2 AND status = $1
		)
	`, StatusPending, fingerprint).Scan(&pos)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return pos, nil
}

// admissionLockKey serializes the capacity check and the insert below
// within a single Postgres advisory lock, scoped to the transaction and
// released automatically on commit or rollback. Without it, two
// concurrent Enqueue calls for distinct fingerprints can each read the
// PENDING count before either inserts, letting the backlog exceed
// maxPending; count(*) itself can't be protected with a row-level
// FOR UPDATE since Postgres rejects FOR UPDATE with aggregates.
const admissionLockKey = 0x6f776275 // arbitrary fixed key, unique to this lock's purpose

// Enqueue creates a BuildJob in PENDING iff none is PENDING/BUILDING and
// no result exists for fingerprint, and the PENDING backlog is currently
// below maxPending. Otherwise it writes nothing and reports why:
// EnqueueAlreadyBuilt, EnqueueAlreadyFlight, or EnqueueFull.
func (s *Store) Enqueue(ctx context.Context, fingerprint string, maxPending int) (EnqueueOutcome, error) {
	var outcome EnqueueOutcome

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(admissionLockKey)); err != nil {
			return err
		}

		var hasResult bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM results WHERE fingerprint = $1)`, fingerprint).Scan(&hasResult); err != nil {
			return err
		}
		if hasResult {
			outcome = EnqueueAlreadyBuilt
			return nil
		}

		var inFlight bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM jobs WHERE fingerprint = $1 AND status IN ($2,$3))
		`, fingerprint, StatusPending, StatusBuilding).Scan(&inFlight); err != nil {
			return err
		}
		if inFlight {
			outcome = EnqueueAlreadyFlight
			return nil
		}

		var pending int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = $1`, StatusPending).Scan(&pending); err != nil {
			return err
		}
		if pending >= maxPending {
			outcome = EnqueueFull
			return nil
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO jobs (fingerprint, status) VALUES ($1, $2)
		`, fingerprint, StatusPending)
		if err != nil {
			return err
		}
		outcome = EnqueueNew
		return nil
	})
	return outcome, err
}

// ClaimPending atomically selects the oldest PENDING job, flips it to
// BUILDING, and stamps start time and worker id. Two concurrent callers
// never obtain the same job: the SELECT uses FOR UPDATE SKIP LOCKED so a
// second caller's query simply skips the row the first caller is holding.
func (s *Store) ClaimPending(ctx context.Context, workerID string) (*Job, error) {
	var job *Job

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, fingerprint FROM jobs
			WHERE status = $1
			ORDER BY enqueued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`, StatusPending)

		var id int64
		var fingerprint string
		if err := row.Scan(&id, &fingerprint); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}

		now := time.Now().UTC()
		_, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $1, started_at = $2, worker_id = $3 WHERE id = $4
		`, StatusBuilding, now, workerID, id)
		if err != nil {
			return err
		}

		job = &Job{
			ID:          id,
			Fingerprint: fingerprint,
			Status:      StatusBuilding,
			StartedAt:   &now,
			WorkerID:    workerID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListBuilding returns every job currently in BUILDING, for the startup
// recovery sweep.
func (s *Store) ListBuilding(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, fingerprint, status, enqueued_at, started_at, worker_id
		FROM jobs WHERE status = $1
	`, StatusBuilding)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Fingerprint, &j.Status, &j.EnqueuedAt, &j.StartedAt, &j.WorkerID); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Requeue resets a BUILDING job back to PENDING, clearing its start
// stamp and worker id so claim_pending can select it again.
func (s *Store) Requeue(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, started_at = NULL, worker_id = ''
		WHERE fingerprint = $2 AND status = $3
	`, StatusPending, fingerprint, StatusBuilding)
	return err
}

// Complete transitions fingerprint's current job to COMPLETED.
func (s *Store) Complete(ctx context.Context, fingerprint, buildCommand string) error {
	return s.finish(ctx, fingerprint, StatusCompleted, buildCommand, "")
}

// Fail transitions fingerprint's current job to FAILED with errMsg.
func (s *Store) Fail(ctx context.Context, fingerprint, errMsg string) error {
	return s.finish(ctx, fingerprint, StatusFailed, "", errMsg)
}

func (s *Store) finish(ctx context.Context, fingerprint string, status Status, buildCommand, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, finished_at = $2, build_command = $3, error_message = $4
		WHERE fingerprint = $5 AND status = $6
	`, status, now, buildCommand, errMsg, fingerprint, StatusBuilding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		s.log.WithField("fingerprint", fingerprint).Warn("finish: no BUILDING job found, possible stale transition")
	}
	return nil
}

// PutResult writes result exactly once per fingerprint.
func (s *Store) PutResult(ctx context.Context, result *Result) error {
	artifacts, err := json.Marshal(result.Artifacts)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO results (fingerprint, artifacts, manifest, built_at, duration_secs)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (fingerprint) DO NOTHING
	`, result.Fingerprint, artifacts, result.Manifest, timeOrNow(result.BuiltAt), result.DurationSecs)
	return err
}

// Expire deletes the result row for fingerprint. The caller remains
// responsible for deleting the artifact blobs on disk.
func (s *Store) Expire(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM results WHERE fingerprint = $1`, fingerprint)
	return err
}

// IncrCounter increments a named counter by delta, creating it if absent.
// Used by internal/stats to persist its durable per-event counters.
func (s *Store) IncrCounter(ctx context.Context, name string, delta int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO counters (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + $2
	`, name, delta)
	return err
}

// Counters returns a snapshot of every counter.
func (s *Store) Counters(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
