package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

// PublicPath is the URL prefix under which PUBLIC_DIR is served.
const PublicPath = "/public"

func SetupRouter(tm *task.Manager, cfg *config.Config, log *slog.Logger) *gin.Engine {
	log = logging.WithComponent(log, "http")
	h := NewHandler(tm, log)

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(log), CORS(cfg.CORSAllowedOrigins))

	r.GET("/ping", h.handlePing)
	r.GET("/health", h.handleHealth)

	// Rendered files are removed as soon as the upload finishes, so this is
	// only useful while a job is in flight.
	r.Static(PublicPath, cfg.PublicDir)

	r.POST("/generate-video", AuthMiddleware(cfg), h.handleGenerateVideo)
	return r
}
