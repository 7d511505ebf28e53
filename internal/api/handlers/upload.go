package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

// Upload accepts one or more files under the "files" or "file" field.
func (h *Handler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"msg": "Request too large"})
		case errors.Is(err, http.ErrNotMultipart):
			c.JSON(http.StatusBadRequest, gin.H{"msg": "No file uploaded"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid multipart form"})
		}
		return
	}
	defer func() { _ = form.RemoveAll() }()

	// Preferred: "files", fallback: "file"
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "No file uploaded"})
		return
	}

	opts := services.UploadOptions{
		Password: c.PostForm("password"),
		BaseURL:  h.baseURL(c),
	}
	if raw := strings.TrimSpace(c.PostForm("expiresInDays")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: %q", services.ErrInvalidExpiry, raw))
			return
		}
		opts.ExpiresInDays = &days
	}

	result, err := h.deps.Uploader.Upload(c.Request.Context(), candidates(files), opts)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"msg":           "File(s) uploaded successfully",
		"files":         result.Accepted,
		"count":         len(result.Accepted),
		"rejected":      result.Rejected,
		"rejectedCount": len(result.Rejected),
	})
}

func candidates(files []*multipart.FileHeader) []services.UploadCandidate {
	out := make([]services.UploadCandidate, 0, len(files))
	for _, fh := range files {
		out = append(out, services.UploadCandidate{
			Name:     fh.Filename,
			Size:     fh.Size,
			MimeType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return out
}
