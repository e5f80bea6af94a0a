package adminapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"

	apperrors "moduforge.dev/moduforge/internal/pkg/errors"
)

// openAPIDocument describes the admin surface; the dispatch body is
// validated against it before any step decoding happens, so malformed
// payloads are rejected with a schema-level message instead of a decode
// panic deep in the handler.
const openAPIDocument = `
openapi: 3.0.3
info:
  title: ModuForge Admin API
  version: "1.0"
paths:
  /v1/state:
    get:
      responses:
        "200":
          description: current state summary
  /v1/history:
    get:
      responses:
        "200":
          description: history depths
  /v1/undo:
    post:
      responses:
        "200":
          description: state after undo
        "409":
          description: nothing to undo
  /v1/redo:
    post:
      responses:
        "200":
          description: state after redo
        "409":
          description: nothing to redo
  /v1/dispatch:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [steps]
              additionalProperties: false
              properties:
                steps:
                  type: array
                  items:
                    type: object
                    required: [kind]
                    properties:
                      kind:
                        type: integer
                        minimum: 1
                        maximum: 7
                meta:
                  type: object
      responses:
        "200":
          description: dispatch accepted and applied
        "202":
          description: dispatch filtered out by a plugin
        "422":
          description: dispatch rejected by schema or pool invariants
        "429":
          description: dispatch queue full
`

// newRequestValidator compiles the embedded document into a gin middleware
// validating request shape for routes the document declares.
func newRequestValidator() (gin.HandlerFunc, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(openAPIDocument))
	if err != nil {
		return nil, fmt.Errorf("adminapi: load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("adminapi: invalid openapi document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("adminapi: build openapi router: %w", err)
	}

	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			// Routes outside the document are not validated here; gin's
			// own routing produces the 404.
			c.Next()
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    apperrors.CodeValidationFailed,
				"message": err.Error(),
			})
			return
		}
		c.Next()
	}, nil
}
