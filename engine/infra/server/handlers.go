package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/ingest"
	"github.com/gin-gonic/gin"
)

// Ingestor is the ingestion surface exposed over HTTP.
type Ingestor interface {
	IngestFile(ctx context.Context, tenant, file string) (*ingest.FileResult, error)
	IngestAll(ctx context.Context, tenant string) (*ingest.Report, error)
	RemoveFile(ctx context.Context, tenant, file string) error
}

// Searcher answers retrieval queries.
type Searcher interface {
	Search(ctx context.Context, tenant, query string, topK int) ([]knowledge.Result, error)
}

// SearchRequest is the body of POST /tenants/:tenant/search.
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k" binding:"min=0,max=100"`
}

// SearchResponse carries the ranked results. Message is set when nothing
// cleared the relevance threshold.
type SearchResponse struct {
	Results []knowledge.Result `json:"results"`
	Message string             `json:"message,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data, "message": "Success"})
}

func searchHandler(searcher Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondProblem(c, http.StatusBadRequest, ErrBadRequestCode, err.Error())
			return
		}
		results, err := searcher.Search(c.Request.Context(), c.Param("tenant"), req.Query, req.TopK)
		if err != nil {
			respondError(c, err)
			return
		}
		resp := SearchResponse{Results: results}
		if len(results) == 0 {
			resp.Message = knowledge.NoMaterialsMessage
		}
		respondOK(c, http.StatusOK, resp)
	}
}

func ingestFileHandler(ingestor Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := ingestor.IngestFile(c.Request.Context(), c.Param("tenant"), c.Param("file"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, res)
	}
}

func ingestAllHandler(ingestor Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := ingestor.IngestAll(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusOK
		if len(report.Failed) > 0 {
			status = http.StatusMultiStatus
		}
		respondOK(c, status, report)
	}
}

func removeFileHandler(ingestor Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ingestor.RemoveFile(c.Request.Context(), c.Param("tenant"), c.Param("file")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func healthHandler(check func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

var errNotConfigured = errors.New("server: ingestor and searcher are required")
