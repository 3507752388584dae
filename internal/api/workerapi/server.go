package workerapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/openwrt-firmware/imagebuilder-core/internal/queue"
)

// Server exposes a queue.WorkerStore over HTTP, using the same
// labstack/echo/v4 idiom internal/api's Server uses, so a split-deployment
// worker process has nothing but a base URL and needs no direct
// jobstore.Store connection.
type Server struct {
	store queue.WorkerStore
	log   *logrus.Entry
}

// NewServer wraps store for HTTP exposure.
func NewServer(store queue.WorkerStore) *Server {
	return &Server{store: store, log: logrus.WithField("component", "workerapi")}
}

// Handler returns an http.Handler serving the claim/get-request/complete/
// fail/put-result verbs under path (e.g. "/worker").
func (s *Server) Handler(path string) http.Handler {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		s.log.WithError(err).Error("workerapi request failed")
		if c.Response().Committed {
			return
		}
		_ = c.JSONBlob(http.StatusInternalServerError, encodeError(err))
	}

	g := e.Group(path)
	g.POST("/claim", s.handleClaim)
	g.GET("/request/:fingerprint", s.handleGetRequest)
	g.POST("/complete", s.handleComplete)
	g.POST("/fail", s.handleFail)
	g.POST("/result", s.handlePutResult)
	return e
}

func (s *Server) handleClaim(c echo.Context) error {
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	job, err := s.store.ClaimPending(c.Request().Context(), req.WorkerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claimResponse{Job: toWireJob(job)})
}

func (s *Server) handleGetRequest(c echo.Context) error {
	fingerprint := c.Param("fingerprint")
	req, err := s.store.GetRequest(c.Request().Context(), fingerprint)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, requestResponse{Request: req})
}

func (s *Server) handleComplete(c echo.Context) error {
	var body completeRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	if err := s.store.Complete(c.Request().Context(), body.Fingerprint, body.BuildCommand); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleFail(c echo.Context) error {
	var body failRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	if err := s.store.Fail(c.Request().Context(), body.Fingerprint, body.ErrorMsg); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handlePutResult(c echo.Context) error {
	var body resultRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	if body.Result == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "result is required")
	}
	if err := s.store.PutResult(c.Request().Context(), body.Result); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}
