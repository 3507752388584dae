package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
	"github.com/openwrt-firmware/imagebuilder-core/internal/orchestrator"
	"github.com/openwrt-firmware/imagebuilder-core/internal/queue"
	"github.com/openwrt-firmware/imagebuilder-core/internal/resolver"
)

// Store is the slice of internal/jobstore.Store the API needs, beyond
// what internal/queue.Store already requires. It also satisfies
// orchestrator.ProbeCache, since handlePrepare reuses the same
// cache-checked default-package probe the orchestrator itself runs.
type Store interface {
	queue.Store
	GetJob(ctx context.Context, fingerprint string) (*jobstore.Job, error)
	GetRequest(ctx context.Context, fingerprint string) (*buildrequest.Request, error)
	PutRequest(ctx context.Context, req *buildrequest.Request) error
	Counters(ctx context.Context) (map[string]int64, error)
	GetProbeCache(ctx context.Context, key string) (json.RawMessage, bool, error)
	PutProbeCache(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// buildEnvelope is the response body shape used for both
// the submission and status endpoints — one struct, fields populated
// according to which state applies.
type buildEnvelope struct {
	RequestHash    string   `json:"request_hash"`
	Status         string   `json:"status"`
	Images         []string `json:"images,omitempty"`
	Manifest       string   `json:"manifest,omitempty"`
	BuildDuration  float64  `json:"build_duration,omitempty"`
	CacheHit       bool     `json:"cache_hit,omitempty"`
	QueuePosition  int      `json:"queue_position,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
}

func envelopeFromResult(fingerprint string, r *jobstore.Result, cacheHit bool) buildEnvelope {
	return buildEnvelope{
		RequestHash:   fingerprint,
		Status:        "completed",
		Images:        r.Artifacts,
		Manifest:      r.Manifest,
		BuildDuration: r.DurationSecs,
		CacheHit:      cacheHit,
	}
}

func envelopeFromJob(j *jobstore.Job) buildEnvelope {
	env := buildEnvelope{
		RequestHash:   j.Fingerprint,
		Status:        jobStatusJSON(j.Status),
		QueuePosition: j.QueuePosition,
		StartedAt:     j.StartedAt,
	}
	if j.Status == jobstore.StatusFailed {
		env.ErrorMessage = j.ErrorMessage
	}
	return env
}

func jobStatusJSON(s jobstore.Status) string {
	switch s {
	case jobstore.StatusPending:
		return "pending"
	case jobstore.StatusBuilding:
		return "building"
	case jobstore.StatusCompleted:
		return "completed"
	case jobstore.StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// handleSubmit implements the submit() operation: the HTTP submission
// endpoint.
func (s *Server) handleSubmit(c echo.Context) error {
	var req buildrequest.Request
	if err := c.Bind(&req); err != nil {
		return err
	}

	if err := buildrequest.Canonicalize(&req, s.limits); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.store.PutRequest(ctx, &req); err != nil {
		return err
	}

	decision, err := queue.Admit(ctx, s.store, req.RequestHash, s.maxPending)
	if err != nil {
		s.metrics.RecordSubmit(ctx, "rejected")
		return err
	}

	switch decision.Outcome {
	case "cache-hit":
		s.metrics.RecordSubmit(ctx, "cache-hit")
		return c.JSON(http.StatusOK, envelopeFromResult(req.RequestHash, decision.Result, true))
	case "in-flight":
		s.metrics.RecordSubmit(ctx, "in-flight")
		return c.JSON(http.StatusAccepted, envelopeFromJob(decision.Job))
	default: // "queued"
		s.metrics.RecordSubmit(ctx, "queued")
		if queueLen, err := s.store.QueueLength(ctx); err == nil {
			s.metrics.SetQueueLength(queueLen)
		}
		return c.JSON(http.StatusAccepted, buildEnvelope{
			RequestHash:   req.RequestHash,
			Status:        "pending",
			QueuePosition: decision.QueuePosition,
		})
	}
}

// handleStatus implements the status() operation / GET /build/<fingerprint>.
func (s *Server) handleStatus(c echo.Context) error {
	fingerprint := c.Param("fingerprint")
	ctx := c.Request().Context()

	if result, err := s.store.GetResult(ctx, fingerprint); err == nil {
		return c.JSON(http.StatusOK, envelopeFromResult(fingerprint, result, true))
	}

	job, err := s.store.GetJob(ctx, fingerprint)
	if err != nil {
		return errNotFound
	}
	if job.Status == jobstore.StatusFailed {
		return c.JSON(http.StatusInternalServerError, envelopeFromJob(job))
	}
	return c.JSON(http.StatusAccepted, envelopeFromJob(job))
}

// prepareResponse is the body POST /build/prepare returns.
type prepareResponse struct {
	Status            string             `json:"status"`
	OriginalPackages  []string           `json:"original_packages"`
	ResolvedPackages  []string           `json:"resolved_packages"`
	Changes           []resolver.Change  `json:"changes"`
	PreparedRequest   *buildrequest.Request `json:"prepared_request"`
	RequestHash       string             `json:"request_hash"`
	CacheAvailable    bool               `json:"cache_available"`
}

// handlePrepare implements the prepare(request) operation.
func (s *Server) handlePrepare(c echo.Context) error {
	var req buildrequest.Request
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := buildrequest.Canonicalize(&req, s.limits); err != nil {
		return err
	}

	ctx := c.Request().Context()
	tag := container.ImageTag(s.imageBuilderRegistry, req.Version, req.Target, req.Subtarget)

	defaults, err := orchestrator.ProbeDefaultPackages(ctx, s.driver, s.store, tag, req.Version, req.Target, req.Subtarget, req.Profile, s.probeTimeout)
	if err != nil {
		return err
	}

	result, err := resolver.Resolve(resolver.Input{
		Version:         req.Version,
		Target:          req.Target,
		Subtarget:       req.Subtarget,
		Profile:         req.Profile,
		Packages:        req.Packages,
		PackageVersions: req.PackagesVersions,
		DiffPackages:    req.DiffPackages,
		Defaults:        defaults,
	})
	if err != nil {
		return err
	}

	_, cacheErr := s.store.GetResult(ctx, req.RequestHash)
	cacheAvailable := cacheErr == nil

	return c.JSON(http.StatusOK, prepareResponse{
		Status:           "prepared",
		OriginalPackages: req.Packages,
		ResolvedPackages: result.Packages,
		Changes:          result.Changes,
		PreparedRequest:  &req,
		RequestHash:      req.RequestHash,
		CacheAvailable:   cacheAvailable,
	})
}

// handleStats implements the stats() operation.
func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()
	queueLen, err := s.store.QueueLength(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetQueueLength(queueLen)
	snap, err := s.metrics.Snapshot(ctx, queueLen)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.QueueLength(ctx); err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
