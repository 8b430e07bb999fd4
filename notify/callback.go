// Package notify reports finished jobs to caller-supplied webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

// Payload is the JSON body posted to a callback URL. ConfigID is echoed
// exactly as the caller sent it.
type Payload struct {
	ConfigID     json.RawMessage `json:"configId"`
	DriveFileID  string          `json:"driveFileId"`
	DriveFileURL string          `json:"driveFileUrl"`
}

// Callback posts job outcomes. It never returns an error: delivery is best effort.
type Callback struct {
	client *http.Client
	log    *slog.Logger
}

func NewCallback(cfg *config.Config, log *slog.Logger) *Callback {
	timeout := cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Callback{
		client: &http.Client{Timeout: timeout},
		log:    logging.WithComponent(log, "notify"),
	}
}

// Notify posts result to callbackURL once. An empty URL is a no-op.
// correlationID is raw JSON text; an empty one is sent as null.
func (c *Callback) Notify(ctx context.Context, callbackURL, correlationID string, result *task.UploadResult) {
	if callbackURL == "" || result == nil {
		return
	}
	if err := c.post(ctx, callbackURL, Payload{
		ConfigID:     configID(correlationID),
		DriveFileID:  result.RemoteFileID,
		DriveFileURL: result.RemoteFileURL,
	}); err != nil {
		c.log.Warn("callback delivery failed", "url", callbackURL, "error", err)
		return
	}
	c.log.Info("callback delivered", "url", callbackURL, "config_id", correlationID)
}

func configID(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

func (c *Callback) post(ctx context.Context, callbackURL string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
