package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

// fail writes the response for err according to its kind.
// Unauthorized is handled by the download handler, which may render a prompt.
func (h *Handler) fail(c *gin.Context, err error) {
	switch services.KindOf(err) {
	case services.KindValidation:
		msg := strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": ")
		c.JSON(http.StatusBadRequest, gin.H{"msg": msg})
	case services.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"msg": "File not found"})
	case services.KindExpired:
		c.JSON(http.StatusGone, gin.H{"msg": "File has expired"})
	case services.KindUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "Password required or incorrect", "requiresPassword": true})
	default:
		if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// client went away; nothing useful to send
			c.Abort()
			return
		}
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Internal storage error"})
	}
	c.Abort()
}
