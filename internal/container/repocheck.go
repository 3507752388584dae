package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// RepositoryChecker validates that custom opkg repository URLs
// (the request's "repositories" field) are reachable before an expensive build is
// started. A
// failure here is a transient infrastructure error: it gets
// one retry before the build phase fails.
type RepositoryChecker struct {
	client *retryablehttp.Client
}

// NewRepositoryChecker builds a checker with a short, bounded retry
// policy — this is a pre-flight probe, not the build itself, so it must
// fail fast rather than hold up the worker.
func NewRepositoryChecker() *RepositoryChecker {
	c := retryablehttp.NewClient()
	c.RetryMax = 1
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = 5 * time.Second
	return &RepositoryChecker{client: c}
}

// Check issues a HEAD request against each URL in order and returns the
// first failure, naming the offending URL.
func (c *RepositoryChecker) Check(ctx context.Context, urls []string) error {
	for _, url := range urls {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("repo-check: %s: %w", url, err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("repo-check: %s: unreachable: %w", url, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("repo-check: %s: returned %d", url, resp.StatusCode)
		}
		logrus.WithField("url", url).Debug("repository reachable")
	}
	return nil
}
