package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediarender/task"
)

type Handler struct {
	taskManager *task.Manager
	log         *slog.Logger
}

func NewHandler(tm *task.Manager, log *slog.Logger) *Handler {
	return &Handler{taskManager: tm, log: log}
}

// MediaURL is one entry of config.mediaUrls.
type MediaURL struct {
	URL      string  `json:"url"`
	Type     string  `json:"type"`
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
}

type RenderConfig struct {
	MediaURLs  []MediaURL `json:"mediaUrls"`
	VideoURL   string     `json:"videoUrl"`
	AudioURL   string     `json:"audioUrl"`
	OutputFile string     `json:"outputFile"`
	Resolution string     `json:"resolution"`
	// ConfigID may be any JSON value; it is passed to the callback untouched.
	ConfigID json.RawMessage `json:"configId"`
}

// GenerateRequest is the body of POST /generate-video.
type GenerateRequest struct {
	Config           RenderConfig `json:"config"`
	DriveAccessToken string       `json:"driveAccessToken"`
	DriveFolderID    string       `json:"driveFolderId"`
	CallbackURL      string       `json:"callbackUrl"`
}

// JobRequest maps the wire body onto the queue's request type.
func (g GenerateRequest) JobRequest() task.JobRequest {
	req := task.JobRequest{
		VideoURL:        g.Config.VideoURL,
		AudioURL:        g.Config.AudioURL,
		OutputFileName:  g.Config.OutputFile,
		Resolution:      g.Config.Resolution,
		StorageToken:    g.DriveAccessToken,
		StorageFolderID: g.DriveFolderID,
		CallbackURL:     g.CallbackURL,
		CorrelationID:   string(g.Config.ConfigID),
	}
	for _, m := range g.Config.MediaURLs {
		req.MediaAssets = append(req.MediaAssets, task.AssetSpec{
			URL:              m.URL,
			Kind:             task.AssetKind(m.Type),
			Format:           m.Format,
			DeclaredDuration: m.Duration,
		})
	}
	return req
}

type GenerateResponse struct {
	Success      bool   `json:"success"`
	DriveFileID  string `json:"driveFileId"`
	DriveFileURL string `json:"driveFileUrl"`
}

func (h *Handler) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "Server is alive!")
}

func (h *Handler) handleHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if !h.taskManager.Ready() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"state":   h.taskManager.State(),
		"pending": h.taskManager.Pending(),
	})
}

// handleGenerateVideo blocks until the queued job resolves and answers with
// its outcome.
func (h *Handler) handleGenerateVideo(c *gin.Context) {
	var body GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	h.taskManager.Submit(c.Request.Context(), body.JobRequest(), func(res *task.UploadResult, err error) {
		if err != nil {
			code := statusFor(err)
			if code >= http.StatusInternalServerError {
				h.log.Error("render job failed", "kind", task.KindOf(err), "error", err, "request_id", c.GetString(requestIDKey))
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, GenerateResponse{
			Success:      true,
			DriveFileID:  res.RemoteFileID,
			DriveFileURL: res.RemoteFileURL,
		})
	})
}

func statusFor(err error) int {
	if task.KindOf(err) == task.KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
