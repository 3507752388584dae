package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/queue"
	"github.com/openwrt-firmware/imagebuilder-core/internal/resolver"
)

// errorEnvelope is the `{error: <message>}` body HTTPErrorHandler returns
// for every error a handler returns. A failed build's status poll is not
// one of these: it answers 500 with the build envelope's error_message.
type errorEnvelope struct {
	Error string `json:"error"`
}

// HTTPErrorHandler maps the service's error taxonomy onto HTTP status
// codes. It is installed as echo's HTTPErrorHandler so handlers can
// simply `return err` and let this classify it once, in one place —
// mirroring a single HTTPErrorHandler on a cloud API server.
func HTTPErrorHandler(err error, c echo.Context) {
	var valErr *buildrequest.ValidationError
	var resErr *resolver.Error
	var admErr *queue.AdmissionError
	var echoErr *echo.HTTPError

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
		message = valErr.Error()
	case errors.As(err, &resErr):
		status = http.StatusBadRequest
		message = resErr.Error()
	case errors.As(err, &admErr):
		status = http.StatusTooManyRequests
		message = admErr.Error()
	case errors.Is(err, errNotFound):
		status = http.StatusNotFound
		message = "not found"
	case errors.As(err, &echoErr):
		status = echoErr.Code
		if s, ok := echoErr.Message.(string); ok {
			message = s
		}
	default:
		logrus.WithError(err).Error("unhandled API error")
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorEnvelope{Error: message})
}

var errNotFound = errors.New("api: not found")
