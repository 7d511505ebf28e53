package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

type Uploader interface {
	Upload(ctx context.Context, files []services.UploadCandidate, opts services.UploadOptions) (*services.UploadResult, error)
}

type FileAccess interface {
	Retrieve(ctx context.Context, id, password string, checks ...services.Precondition) (*services.Download, error)
	GetInfo(ctx context.Context, id string) (*models.FileInfo, error)
}

type Sweeper interface {
	RunExpirySweep(ctx context.Context) (services.SweepResult, error)
	RunOrphanSweep(ctx context.Context) (services.SweepResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (models.Stats, error)
}

// Dependencies groups what the handlers call into.
type Dependencies struct {
	Uploader Uploader
	Access   FileAccess
	Sweeper  Sweeper
	Stats    StatsSource
	Metadata Pinger
	Blobs    Pinger
	// Clock is the time source shared with the services; nil means the system clock.
	Clock services.Clock
}

type Handler struct {
	deps          Dependencies
	publicBaseURL string
	log           *zap.Logger
}

// New builds the handler set. An empty publicBaseURL makes share links
// use the scheme and host of the upload request.
func New(deps Dependencies, publicBaseURL string, log *zap.Logger) *Handler {
	return &Handler{
		deps:          deps,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           log,
	}
}

func (h *Handler) baseURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handler) shareLink(c *gin.Context, id string) string {
	return h.baseURL(c) + "/file/" + id
}
