package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/httpclient"
	"github.com/parley-run/parley/pkg/sensitive"
)

func TestHTTPTool_BucketsAuthAndPathInterpolation(t *testing.T) {
	var seen *http.Request
	var seenBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		_ = json.NewDecoder(r.Body).Decode(&seenBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tool, err := NewHTTPTool(HTTPDescriptor{
		Name:   "transfer",
		Origin: srv.URL,
		Path:   "/accounts/{account_id}/transfer",
		Method: http.MethodPost,
		Partition: ParameterPartition{
			Header: map[string]any{"X-Trace": nil},
			Query:  map[string]any{"fast": "false"},
			Path:   map[string]any{"account_id": nil},
			Body:   map[string]any{"amount": nil, "currency": "USD"},
		},
		Auth: &AuthConfig{Location: "header", Key: "X-Api-Key", Value: "sekrit"},
	})
	require.NoError(t, err)

	frames, err := tool.Execute(context.Background(), ExecutorContext{ConversationID: "c"}, map[string]any{
		"account_id": "42",
		"amount":     float64(5),
		"X-Trace":    "abc",
	})
	require.NoError(t, err)
	got := drainFrames(t, frames)

	require.NotNil(t, seen)
	assert.Equal(t, "/accounts/42/transfer", seen.URL.Path)
	assert.Equal(t, "false", seen.URL.Query().Get("fast"))
	assert.Equal(t, "sekrit", seen.Header.Get("X-Api-Key"))
	assert.Equal(t, "abc", seen.Header.Get("X-Trace"))
	assert.Equal(t, float64(5), seenBody["amount"])
	assert.Equal(t, "USD", seenBody["currency"])

	require.Len(t, got, 2)
	assert.Equal(t, events.KindTool, got[0].Kind)
	require.True(t, got[1].IsFinish())
	result, _ := got[1].FinishResult()
	assert.JSONEq(t, `{"ok":true}`, result)
}

func TestHTTPTool_PreBucketedArguments(t *testing.T) {
	var seen *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		fmt.Fprint(w, "done")
	}))
	defer srv.Close()

	tool, err := NewHTTPTool(HTTPDescriptor{
		Name:   "lookup",
		Origin: srv.URL,
		Path:   "/items/{id}",
		Method: http.MethodGet,
		Auth:   &AuthConfig{Location: "param", Key: "api_key", Value: "sekrit"},
	})
	require.NoError(t, err)

	frames, err := tool.Execute(context.Background(), ExecutorContext{}, map[string]any{
		"header": map[string]any{"X-Req": "1"},
		"query":  map[string]any{"verbose": true},
		"path":   map[string]any{"id": float64(7)},
		"body":   map[string]any{},
	})
	require.NoError(t, err)
	got := drainFrames(t, frames)

	require.NotNil(t, seen)
	assert.Equal(t, "/items/7", seen.URL.Path)
	assert.Equal(t, "true", seen.URL.Query().Get("verbose"))
	assert.Equal(t, "sekrit", seen.URL.Query().Get("api_key"))
	assert.Equal(t, "1", seen.Header.Get("X-Req"))

	// non-JSON responses pass through as raw text
	require.Len(t, got, 2)
	result, _ := got[1].FinishResult()
	assert.Equal(t, "done", result)
}

func TestHTTPTool_SensitiveMaskAndRecover(t *testing.T) {
	var lastEmail string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profile":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"email":"alice@example.com"}`)
		case "/notify":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			lastEmail, _ = body["email"].(string)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"sent":true}`)
		}
	}))
	defer srv.Close()

	processor := sensitive.NewProcessor(sensitive.NewInMemoryMappingStore(), 0)
	ec := ExecutorContext{ConversationID: "conv", Sensitive: processor}

	cfg := sensitive.Config{}
	cfg.Response.SensitiveFields = []sensitive.FieldConfig{
		{Path: "email", MaskType: sensitive.MaskPattern, Pattern: "{username}@***"},
	}
	profile, err := NewHTTPTool(HTTPDescriptor{
		Name: "profile", Origin: srv.URL, Path: "/profile", Method: http.MethodGet,
		Sensitive: cfg,
	})
	require.NoError(t, err)

	frames, err := profile.Execute(context.Background(), ec, map[string]any{})
	require.NoError(t, err)
	got := drainFrames(t, frames)

	// the model-facing result carries only the masked value
	result, _ := got[len(got)-1].FinishResult()
	assert.Contains(t, result, "alice@***")
	assert.NotContains(t, result, "alice@example.com")

	// a second tool sends the masked value; the wire sees the original
	recoverCfg := sensitive.Config{}
	recoverCfg.Parameters.RecoverableFields = []string{"email"}
	notify, err := NewHTTPTool(HTTPDescriptor{
		Name: "notify", Origin: srv.URL, Path: "/notify", Method: http.MethodPost,
		Sensitive: recoverCfg,
	})
	require.NoError(t, err)

	frames, err = notify.Execute(context.Background(), ec, map[string]any{"email": "alice@***"})
	require.NoError(t, err)
	drainFrames(t, frames)

	assert.Equal(t, "alice@example.com", lastEmail)
}

func TestHTTPTool_NonOKBecomesErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tool, err := NewHTTPTool(HTTPDescriptor{Name: "denied", Origin: srv.URL, Path: "/x"})
	require.NoError(t, err)

	frames, err := tool.Execute(context.Background(), ExecutorContext{}, map[string]any{})
	require.NoError(t, err)
	got := drainFrames(t, frames)

	require.Len(t, got, 2)
	assert.Equal(t, events.KindError, got[0].Kind)
	require.True(t, got[1].IsFinish())
	result, _ := got[1].FinishResult()
	assert.Contains(t, result, "403")
}

func TestHTTPTool_StreamingRelaysLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{"first", "second"} {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	tool, err := NewHTTPTool(HTTPDescriptor{
		Name: "watcher", Origin: srv.URL, Path: "/stream",
		IsStream: true, FrameType: "progress",
	})
	require.NoError(t, err)

	frames, err := tool.Execute(context.Background(), ExecutorContext{}, map[string]any{})
	require.NoError(t, err)
	got := drainFrames(t, frames)

	require.Len(t, got, 3)
	first := got[0].Payload.(events.ToolPayload)
	assert.Equal(t, "progress", first.Type)
	assert.Equal(t, "first", first.Data)
	second := got[1].Payload.(events.ToolPayload)
	assert.Equal(t, "second", second.Data)

	require.True(t, got[2].IsFinish())
	result, _ := got[2].FinishResult()
	assert.Equal(t, "first\nsecond", result)
}

func TestHTTPTool_TransportFailureNeverRaises(t *testing.T) {
	tool, err := NewHTTPTool(HTTPDescriptor{
		Name: "unreachable", Origin: "http://127.0.0.1:1", Path: "/x",
	})
	require.NoError(t, err)
	// skip the backoff sleeps
	tool.client = httpclient.New(httpclient.WithMaxRetries(0))

	frames, err := tool.Execute(context.Background(), ExecutorContext{}, map[string]any{})
	require.NoError(t, err)
	got := drainFrames(t, frames)

	require.NotEmpty(t, got)
	assert.Equal(t, events.KindError, got[0].Kind)
	assert.True(t, got[len(got)-1].IsFinish())
}
