// Package api implements C7, the request API: submit/status/prepare/stats
// over HTTP via labstack/echo/v4, wired
// the way its cloud API server is (a binder, a single HTTPErrorHandler,
// an operation-id pre-middleware, a prometheus-wrapped route group).
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

// Server is C7's HTTP surface. It never touches the container driver for
// the `run` capability directly — only `prepare` reaches into the driver,
// and then only for the read-only, cache-checked default-package probe.
type Server struct {
	store                 Store
	driver                container.Driver
	metrics               *stats.Collector
	limits                buildrequest.Limits
	maxPending            int
	imageBuilderRegistry  string
	probeTimeout          time.Duration
}

// Options configures a Server.
type Options struct {
	Limits               buildrequest.Limits
	MaxPendingJobs        int
	ImageBuilderRegistry  string
	ProbeTimeout          time.Duration
}

// NewServer builds a Server; driver is used only by the prepare handler.
func NewServer(store Store, driver container.Driver, metrics *stats.Collector, opts Options) *Server {
	return &Server{
		store:                store,
		driver:               driver,
		metrics:              metrics,
		limits:               opts.Limits,
		maxPending:           opts.MaxPendingJobs,
		imageBuilderRegistry: opts.ImageBuilderRegistry,
		probeTimeout:         opts.ProbeTimeout,
	}
}

type binder struct{}

// Bind only accepts application/json, mirroring the same binder approach
// on its cloud API server.
func (binder) Bind(i interface{}, c echo.Context) error {
	ct := c.Request().Header.Get("Content-Type")
	if ct != "" && ct != echo.MIMEApplicationJSON && ct != echo.MIMEApplicationJSONCharsetUTF8 {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "expected application/json")
	}
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not decode request body: "+err.Error())
	}
	return nil
}

// Handler returns an http.Handler serving every route under path (e.g. "/").
func (s *Server) Handler(path string) http.Handler {
	e := echo.New()
	e.Binder = binder{}
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Pre(OperationIDMiddleware)
	e.Use(middleware.Recover())

	group := e.Group(strings.TrimSuffix(path, "/"), MetricsMiddleware)
	group.POST("/build", s.handleSubmit)
	group.GET("/build/:fingerprint", s.handleStatus)
	group.POST("/build/prepare", s.handlePrepare)
	group.GET("/stats", s.handleStats)
	group.GET("/openapi.json", s.handleOpenAPI)
	group.GET("/healthz", s.handleHealthz)
	group.GET("/readyz", s.handleReadyz)

	return e
}
