package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"

	"github.com/File-Sharing-BondBridg/Link-Service/cmd/middleware"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/api/handlers"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/logger"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/metrics"
)

type RouterConfig struct {
	CORSOrigins     []string
	MaxRequestBytes int64
	// Tracing enables Datadog spans; the tracer itself is started by main.
	Tracing     bool
	ServiceName string
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", logger.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", "Content-Length", logger.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// NewRouter wires the public file routes, and the admin routes when auth is non-nil.
func NewRouter(h *handlers.Handler, auth *middleware.Authenticator, cfg RouterConfig, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing {
		r.Use(gintrace.Middleware(cfg.ServiceName))
	}
	r.Use(logger.GinLogger(log), metrics.Middleware(), corsMiddleware(cfg.CORSOrigins), limitBody(cfg.MaxRequestBytes))

	RegisterRoutes(r, h, auth)
	return r
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, auth *middleware.Authenticator) {
	// share links predate the /api prefix and must keep working
	r.POST("/upload", h.Upload)
	r.GET("/file/:fileId", h.Download)
	r.POST("/file/:fileId", h.Download)
	r.GET("/file/:fileId/info", h.Info)
	r.GET("/file/:fileId/qr", h.QRCode)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", h.HealthCheck)
		api.POST("/upload", h.Upload)
	}

	if auth == nil {
		return
	}
	admin := api.Group("/admin", auth.RequireAuth())
	{
		admin.POST("/sweep/expired", h.SweepExpired)
		admin.POST("/sweep/orphans", h.SweepOrphans)
		admin.GET("/stats", h.Stats)
	}
}
