package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// QRCode renders the share link of a live file as a PNG.
func (h *Handler) QRCode(c *gin.Context) {
	id := c.Param("fileId")
	if _, err := h.deps.Access.GetInfo(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "size must be between 64 and 1024"})
			return
		}
		size = n
	}

	png, err := qrcode.Encode(h.shareLink(c, id), qrcode.Medium, size)
	if err != nil {
		h.log.Error("failed to encode QR code", zap.String("file_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to render QR code"})
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}
