package api

import (
	"context"
	_ "embed"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

// openapiDoc is the static OpenAPI description of the submit/status/prepare/
// stats surface. Rather than code-generating its types and
// server interface from a YAML document with oapi-codegen, this document
// is hand-written and served as-is; it is still parsed and validated at
// startup with getkin/kin-openapi (the same validation library the
// a generator would depend on) so a malformed document fails fast
// instead of serving garbage to clients.
//
//go:embed openapi.yaml
var openapiDoc []byte

var (
	openapiOnce sync.Once
	openapiErr  error
)

// validateOpenAPIDoc parses openapiDoc once at first use; a later call
// simply reports any error already found. Called from main() at startup
// so a malformed document fails fast rather than lazily on first request.
func validateOpenAPIDoc() error {
	openapiOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(openapiDoc)
		if err != nil {
			openapiErr = err
			return
		}
		openapiErr = doc.Validate(context.Background())
	})
	return openapiErr
}

// ValidateOpenAPIDoc is the exported entry point cmd/owbuild-server calls
// at startup.
func ValidateOpenAPIDoc() error {
	return validateOpenAPIDoc()
}

func (s *Server) handleOpenAPI(c echo.Context) error {
	if err := validateOpenAPIDoc(); err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/yaml", openapiDoc)
}
