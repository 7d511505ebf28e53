package handlers

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

//go:embed templates/*.html
var templatesFS embed.FS

var passwordPrompt = template.Must(template.ParseFS(templatesFS, "templates/password.html"))

type promptData struct {
	FileID    string
	Name      string
	Size      string
	Incorrect bool
}

// Download streams a file as an attachment. The password may come from the
// query string or a form field.
func (h *Handler) Download(c *gin.Context) {
	id := c.Param("fileId")
	password := c.Query("password")
	if password == "" {
		password = c.PostForm("password")
	}

	stripValidators(c.Request)
	dl, err := h.deps.Access.Retrieve(c.Request.Context(), id, password, satisfiableRange(c.GetHeader("Range")))
	if err != nil {
		var (
			unauthorized *services.UnauthorizedError
			badRange     *rangeNotSatisfiableError
		)
		switch {
		case errors.As(err, &unauthorized):
			h.passwordRequired(c, unauthorized)
		case errors.As(err, &badRange):
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", badRange.size))
			c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{"msg": "Requested range not satisfiable"})
		default:
			h.fail(c, err)
		}
		return
	}
	defer dl.Blob.Close()

	c.Header("Content-Disposition", attachment(dl.Record.OriginalName))
	c.Header("Content-Type", dl.Record.ContentType())
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, "", dl.Blob.ModTime, dl.Blob)
}

// Info returns the public metadata of a live file. It does not count as a download.
func (h *Handler) Info(c *gin.Context) {
	info, err := h.deps.Access.GetInfo(c.Request.Context(), c.Param("fileId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) passwordRequired(c *gin.Context, e *services.UnauthorizedError) {
	// Only browsers that ask for text/html get the form. */* and a missing
	// Accept header get JSON so scripted clients can parse the refusal.
	if !strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.JSON(http.StatusUnauthorized, gin.H{
			"msg":              "Password required or incorrect",
			"requiresPassword": true,
			"fileId":           e.FileID,
		})
		return
	}

	var buf bytes.Buffer
	err := passwordPrompt.Execute(&buf, promptData{
		FileID:    e.FileID,
		Name:      e.Name,
		Size:      humanize.Bytes(uint64(e.Size)),
		Incorrect: e.Attempted,
	})
	if err != nil {
		h.log.Error("failed to render password prompt", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "Password required or incorrect", "requiresPassword": true, "fileId": e.FileID})
		return
	}
	c.Data(http.StatusUnauthorized, "text/html; charset=utf-8", buf.Bytes())
}

// attachment formats a Content-Disposition header. Non-ASCII names are
// encoded as an RFC 2231 extended parameter.
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
