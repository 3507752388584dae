// Package workerapi implements the worker-facing HTTP surface for the
// split deployment, where server and worker may run as separate
// processes sharing only the durable job store. A worker process that
// does not hold a direct jobstore.Store connection instead talks to the
// server process that does, through this wire contract.
//
// The wire shape mirrors internal/queue.WorkerStore one verb at a time:
// claim, get-request, complete, fail, put-result. Client satisfies
// queue.WorkerStore directly; Server wraps a queue.WorkerStore (in
// practice a jobstore.Store) and exposes it over HTTP, so internal/queue's
// worker loop runs unmodified against either a local store or this HTTP
// client.
package workerapi

import (
	"encoding/json"
	"time"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
)

// claimRequest is POSTed to /worker/claim.
type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

// claimResponse carries the claimed job, or an empty body with no job
// when nothing is PENDING. wireJob carries the subset of jobstore.Job's
// fields a worker needs (fingerprint, status, enqueue and start times,
// queue position); it exists so the wire format doesn't silently break if
// Job grows unexported bookkeeping later.
type claimResponse struct {
	Job *wireJob `json:"job,omitempty"`
}

type wireJob struct {
	Fingerprint   string     `json:"fingerprint"`
	Status        string     `json:"status"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	QueuePosition int        `json:"queue_position"`
}

func toWireJob(j *jobstore.Job) *wireJob {
	if j == nil {
		return nil
	}
	return &wireJob{
		Fingerprint:   j.Fingerprint,
		Status:        string(j.Status),
		EnqueuedAt:    j.EnqueuedAt,
		StartedAt:     j.StartedAt,
		QueuePosition: j.QueuePosition,
	}
}

func fromWireJob(w *wireJob) *jobstore.Job {
	if w == nil {
		return nil
	}
	return &jobstore.Job{
		Fingerprint:   w.Fingerprint,
		Status:        jobstore.Status(w.Status),
		EnqueuedAt:    w.EnqueuedAt,
		StartedAt:     w.StartedAt,
		QueuePosition: w.QueuePosition,
	}
}

type requestResponse struct {
	Request *buildrequest.Request `json:"request"`
}

type completeRequest struct {
	Fingerprint  string `json:"fingerprint"`
	BuildCommand string `json:"build_command"`
}

type failRequest struct {
	Fingerprint string `json:"fingerprint"`
	ErrorMsg    string `json:"error_message"`
}

type resultRequest struct {
	Result *jobstore.Result `json:"result"`
}

type errorBody struct {
	Error string `json:"error"`
}

func encodeError(err error) []byte {
	b, _ := json.Marshal(errorBody{Error: err.Error()})
	return b
}
