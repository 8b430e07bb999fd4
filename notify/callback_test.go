package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

var result = &task.UploadResult{RemoteFileID: "abc", RemoteFileURL: task.DriveFileURL("abc")}

func TestNotify_PostsPayload(t *testing.T) {
	var got Payload
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	NewCallback(&config.Config{CallbackTimeout: time.Second}, nil).Notify(context.Background(), srv.URL, `"cfg-7"`, result)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Payload{ConfigID: json.RawMessage(`"cfg-7"`), DriveFileID: "abc", DriveFileURL: "https://drive.google.com/file/d/abc/view"}, got)
}

func TestNotify_ConfigIDKeepsItsJSONType(t *testing.T) {
	bodies := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
	}))
	defer srv.Close()

	cb := NewCallback(&config.Config{CallbackTimeout: time.Second}, nil)
	cb.Notify(context.Background(), srv.URL, `1`, result)
	assert.JSONEq(t, `{"configId":1,"driveFileId":"abc","driveFileUrl":"https://drive.google.com/file/d/abc/view"}`, <-bodies)

	cb.Notify(context.Background(), srv.URL, "", result)
	assert.JSONEq(t, `{"configId":null,"driveFileId":"abc","driveFileUrl":"https://drive.google.com/file/d/abc/view"}`, <-bodies)
}

func TestNotify_EmptyURLIsNoop(t *testing.T) {
	var buf bytes.Buffer
	cb := NewCallback(&config.Config{}, logging.New(logging.Options{Output: &buf}))
	cb.Notify(context.Background(), "", `"cfg"`, result)
	assert.Empty(t, buf.String())
}

func TestNotify_FailureIsLoggedNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	cb := NewCallback(&config.Config{CallbackTimeout: time.Second}, logging.New(logging.Options{Output: &buf}))
	cb.Notify(context.Background(), srv.URL, `"cfg"`, result)

	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, buf.String(), "callback delivery failed")
	assert.Contains(t, buf.String(), "502")
}

func TestNotify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	var buf bytes.Buffer
	cb := NewCallback(&config.Config{CallbackTimeout: 100 * time.Millisecond}, logging.New(logging.Options{Output: &buf}))
	started := time.Now()
	cb.Notify(context.Background(), srv.URL, `"cfg"`, result)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Contains(t, buf.String(), "callback delivery failed")
}

func TestNotify_UnreachableTarget(t *testing.T) {
	cb := NewCallback(&config.Config{CallbackTimeout: time.Second}, nil)
	assert.NotPanics(t, func() {
		cb.Notify(context.Background(), "http://127.0.0.1:1/hook", `"cfg"`, result)
	})
}
