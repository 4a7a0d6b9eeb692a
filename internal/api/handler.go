package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/domain"
)

// ChatAnswerer answers chat requests with a streamed answer.
type ChatAnswerer interface {
	Answer(ctx context.Context, req *domain.ChatRequest) (string, <-chan domain.Fragment, error)
}

// DirectoryIngestor runs document ingestion over a directory.
type DirectoryIngestor interface {
	IngestDirectory(ctx context.Context, dir string) (*domain.IngestResult, error)
}

// Handler handles the chat, ingest and health endpoints.
type Handler struct {
	chat     ChatAnswerer
	ingestor DirectoryIngestor
	docsDir  string
	version  string
	log      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(chat ChatAnswerer, ingestor DirectoryIngestor, docsDir, version string, log *zap.Logger) *Handler {
	return &Handler{chat: chat, ingestor: ingestor, docsDir: docsDir, version: version, log: log}
}

// RegisterRoutes registers the API routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
	r.POST("/ingest", h.Ingest)
}

// Chat handles a chat request. With stream enabled the answer is written as
// a plain-text body, one network write per fragment; otherwise the full
// answer is returned as JSON.
func (h *Handler) Chat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Reject before any provider call is made.
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, fragments, err := h.chat.Answer(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if req.Stream {
		h.streamAnswer(c, sessionID, fragments)
		return
	}

	var answer strings.Builder
	for f := range fragments {
		if f.Err != nil {
			h.log.Error("generation failed", zap.Error(f.Err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": f.Err.Error()})
			return
		}
		answer.WriteString(f.Text)
	}
	c.JSON(http.StatusOK, domain.ChatResponse{SessionID: sessionID, Answer: answer.String()})
}

// streamAnswer writes fragments to the client as they arrive. A generation
// failure after streaming has begun is signaled with a terminal error
// sentinel so truncation is distinguishable from a clean end of stream.
func (h *Handler) streamAnswer(c *gin.Context, sessionID string, fragments <-chan domain.Fragment) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Session-ID", sessionID)
	c.Status(http.StatusOK)

	for f := range fragments {
		if f.Err != nil {
			h.log.Error("generation failed mid-stream", zap.Error(f.Err))
			fmt.Fprintf(c.Writer, "\n[ERROR: %s]", f.Err.Error())
			c.Writer.Flush()
			return
		}
		if _, err := c.Writer.WriteString(f.Text); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// Ingest scans the configured documents directory and indexes its contents.
func (h *Handler) Ingest(c *gin.Context) {
	result, err := h.ingestor.IngestDirectory(c.Request.Context(), h.docsDir)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("ingestion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}
