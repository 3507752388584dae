package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// operationIDHeader carries a per-request identifier, the way the
// a cloud API server stamps every request with one before anything
// else runs (common.OperationIDMiddleware), using google/uuid rather
// than hand-rolled randomness.
const operationIDHeader = "X-Operation-Id"

// OperationIDMiddleware assigns a fresh UUID to every request that
// doesn't already carry one, and echoes it back on the response so a
// caller can correlate logs across retries.
func OperationIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(operationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("operation_id", id)
		c.Response().Header().Set(operationIDHeader, id)
		return next(c)
	}
}

// httpDuration is the request-latency histogram every route is wrapped
// in, labeled by route and status, the way a MetricsMiddleware
// wraps its own echo group.
var httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "owbuild",
	Name:      "http_request_duration_seconds",
	Help:      "Latency of API requests by route and status.",
}, []string{"route", "status"})

// MetricsMiddleware times every request and records it against
// httpDuration, mirroring the prometheus.MetricsMiddleware
// applied to its echo route group.
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if status == 0 {
			status = http.StatusOK
		}
		httpDuration.WithLabelValues(c.Path(), http.StatusText(status)).Observe(time.Since(start).Seconds())
		return err
	}
}
