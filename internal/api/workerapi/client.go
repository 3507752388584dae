package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
)

// Client implements internal/queue.WorkerStore over HTTP against a
// Server, for the split deployment where the worker process holds no
// direct connection to the durable job store. Like
// internal/container.RepositoryChecker it uses a bounded retryablehttp
// policy (here up to 3 retries, 200ms-2s backoff, 30s per attempt), since
// a transient network blip to the server process should not fail a claim
// outright.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient builds a Client against baseURL (e.g. "http://server:8080/worker").
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = 30 * time.Second
	return &Client{baseURL: baseURL, http: c}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("workerapi: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("workerapi: build url: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("workerapi: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workerapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return fmt.Errorf("workerapi: %s %s: %s", method, path, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ClaimPending implements internal/queue.WorkerStore.
func (c *Client) ClaimPending(ctx context.Context, workerID string) (*jobstore.Job, error) {
	var resp claimResponse
	if err := c.do(ctx, http.MethodPost, "/claim", claimRequest{WorkerID: workerID}, &resp); err != nil {
		return nil, err
	}
	return fromWireJob(resp.Job), nil
}

// GetRequest implements internal/queue.WorkerStore.
func (c *Client) GetRequest(ctx context.Context, fingerprint string) (*buildrequest.Request, error) {
	var resp requestResponse
	if err := c.do(ctx, http.MethodGet, "/request/"+url.PathEscape(fingerprint), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Request, nil
}

// Complete implements internal/queue.WorkerStore.
func (c *Client) Complete(ctx context.Context, fingerprint, buildCommand string) error {
	return c.do(ctx, http.MethodPost, "/complete", completeRequest{Fingerprint: fingerprint, BuildCommand: buildCommand}, nil)
}

// Fail implements internal/queue.WorkerStore.
func (c *Client) Fail(ctx context.Context, fingerprint, errMsg string) error {
	return c.do(ctx, http.MethodPost, "/fail", failRequest{Fingerprint: fingerprint, ErrorMsg: errMsg}, nil)
}

// PutResult implements internal/queue.WorkerStore.
func (c *Client) PutResult(ctx context.Context, result *jobstore.Result) error {
	return c.do(ctx, http.MethodPost, "/result", resultRequest{Result: result}, nil)
}
