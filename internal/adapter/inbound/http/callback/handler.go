// Package callback receives async provider completions and converges them
// onto the same completion logic the worker uses.
package callback

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/palettebot/server/internal/module/job"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

const maxCallbackBytes = 32 << 20

// envelope is the only structure read from the callback body; everything
// else stays opaque and goes to the normalizer as-is.
type envelope struct {
	Metadata struct {
		CorrelationID string `json:"correlation_id"`
	} `json:"metadata"`
}

// Handler handles provider callback requests.
type Handler struct {
	jobs      job.Repository
	completer *job.Completer
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewHandler creates a callback handler.
func NewHandler(jobs job.Repository, completer *job.Completer, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{
		jobs:      jobs,
		completer: completer,
		metrics:   m,
		log:       log.With(logger.String("component", "callback")),
	}
}

// RegisterRoutes registers callback routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/callbacks/generation", h.Receive)
}

// Receive processes one provider completion. Unknown correlation ids get
// 404 with no side effects; callbacks for terminal jobs get 200 so the
// provider stops redelivering.
func (h *Handler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Metadata.CorrelationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing metadata.correlation_id"})
		return
	}
	id, err := uuid.Parse(env.Metadata.CorrelationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed correlation id"})
		return
	}

	ctx := c.Request.Context()
	j, err := h.jobs.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, job.ErrJobNotFound) {
			h.metrics.RecordCallback("unknown")
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
			return
		}
		h.log.Error("job lookup failed", logger.String("job", id.String()), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if j.IsTerminal() {
		h.metrics.RecordCallback("duplicate")
		c.JSON(http.StatusOK, gin.H{"status": "already finished"})
		return
	}

	if err := h.completer.Complete(ctx, j, raw); err != nil {
		if stderrors.Is(err, errors.ErrPersistence) {
			// The job is already settled as failed with save-specific
			// user messaging. Acknowledge so delivery is not retried.
			h.metrics.RecordCallback("failed")
			c.JSON(http.StatusOK, gin.H{"status": "failed"})
			return
		}
		// The provider will not be asked again on this channel, so an
		// unusable payload settles the job as failed instead of retrying.
		if errors.IsRetryable(err) {
			if ferr := h.completer.Fail(ctx, j, job.MsgGenerationFailed, err.Error()); ferr != nil {
				h.log.Error("callback failure write failed", logger.String("job", id.String()), logger.Err(ferr))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "completion failed"})
				return
			}
			h.metrics.RecordCallback("failed")
			c.JSON(http.StatusOK, gin.H{"status": "failed"})
			return
		}
		h.log.Error("callback completion failed", logger.String("job", id.String()), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "completion failed"})
		return
	}

	h.metrics.RecordCallback("completed")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
