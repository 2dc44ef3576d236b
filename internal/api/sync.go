package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/pullsync"
)

// SyncRunner is implemented by *pullsync.Orchestrator.
type SyncRunner interface {
	Run(ctx context.Context, ch models.Channel) pullsync.Summary
}

type SyncHandler struct {
	runner  SyncRunner
	timeout time.Duration
}

func NewSyncHandler(runner SyncRunner, timeout time.Duration) *SyncHandler {
	return &SyncHandler{runner: runner, timeout: timeout}
}

// TriggerSync runs a pull-sync for one channel and returns its summary. A
// failed or partial run is still a 200; the summary carries the outcome.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	ch, ok := models.ParseChannel(c.Param("channel"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown channel"})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	c.JSON(http.StatusOK, h.runner.Run(ctx, ch))
}
