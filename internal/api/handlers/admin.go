package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

func (h *Handler) SweepExpired(c *gin.Context) {
	h.sweep(c, h.deps.Sweeper.RunExpirySweep)
}

func (h *Handler) SweepOrphans(c *gin.Context) {
	h.sweep(c, h.deps.Sweeper.RunOrphanSweep)
}

func (h *Handler) sweep(c *gin.Context, run func(context.Context) (services.SweepResult, error)) {
	res, err := run(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("sweep triggered over http",
		zap.String("kind", res.Kind),
		zap.String("user_id", c.GetString("user_id")),
		zap.Bool("skipped", res.Skipped))
	c.JSON(http.StatusOK, res)
}

// Stats summarises stored files.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.deps.Stats.Stats(c.Request.Context(), h.deps.Clock.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
