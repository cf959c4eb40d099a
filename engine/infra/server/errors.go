package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Problem codes returned in the "code" member of error bodies.
const (
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrUnsupportedCode        = "UNSUPPORTED_FORMAT"
	ErrUnprocessableCode      = "CHUNKING_FAILED"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
	ErrInternalCode           = "INTERNAL_ERROR"
)

// problemFor maps knowledge errors onto an HTTP status and problem code.
func problemFor(err error) (int, string) {
	switch {
	case errors.Is(err, knowledge.ErrInvalidTenant):
		return http.StatusBadRequest, ErrBadRequestCode
	case errors.Is(err, knowledge.ErrFileNotFound):
		return http.StatusNotFound, ErrNotFoundCode
	case errors.Is(err, knowledge.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, ErrUnsupportedCode
	case errors.Is(err, knowledge.ErrChunking):
		return http.StatusUnprocessableEntity, ErrUnprocessableCode
	case errors.Is(err, knowledge.ErrEmbeddingUnavailable), errors.Is(err, knowledge.ErrVectorStore):
		return http.StatusServiceUnavailable, ErrServiceUnavailableCode
	default:
		return http.StatusInternalServerError, ErrInternalCode
	}
}

// respondError writes an RFC 7807 body for err.
func respondError(c *gin.Context, err error) {
	status, code := problemFor(err)
	respondProblem(c, status, code, err.Error())
}

func respondProblem(c *gin.Context, status int, code, detail string) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{"status", status, "code", code, "detail", detail, "route", route}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Warn("request rejected", fields...)
	}
	payload, err := json.Marshal(gin.H{
		"status": status,
		"title":  http.StatusText(status),
		"detail": detail,
		"code":   code,
	})
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/problem+json", []byte(`{"status":500}`))
		c.Abort()
		return
	}
	c.Data(status, "application/problem+json", payload)
	c.Abort()
}
