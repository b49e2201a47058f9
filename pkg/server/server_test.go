package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-run/parley/pkg/config"
	"github.com/parley-run/parley/pkg/executor"
	"github.com/parley-run/parley/pkg/llms"
)

// scriptedModel streams a fixed token sequence for every call.
type scriptedModel struct {
	tokens []string
}

func (m *scriptedModel) Stream(ctx context.Context, prompt string) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	go func() {
		defer close(ch)
		for _, tok := range m.tokens {
			select {
			case ch <- llms.StreamChunk{Type: llms.ChunkTypeText, Text: tok}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- llms.StreamChunk{Type: llms.ChunkTypeDone}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (m *scriptedModel) Model() string { return "scripted" }

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	exec := executor.New(config.AgentConfig{Name: "qa", Mode: config.ModePrompt}, executor.Deps{
		Model: &scriptedModel{tokens: []string{"hello ", "there"}},
	})

	resolve := func(agentID, modelID string) (*executor.Executor, error) {
		if agentID != "qa" {
			return nil, fmt.Errorf("agent '%s' not found", agentID)
		}
		return exec, nil
	}

	s := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, resolve)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestDialogue_StreamsFrames(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/agents/qa/dialogue", "application/json",
		strings.NewReader(`{"query":"hi","conversationId":"conv-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "event: status")
	assert.Contains(t, string(body), "event: message")
	assert.Contains(t, string(body), `"text":"hello there"`)
}

func TestDialogue_UnknownAgent(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/agents/nobody/dialogue", "application/json",
		strings.NewReader(`{"query":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "not found")
}

func TestDialogue_EmptyQuery(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/agents/qa/dialogue", "application/json",
		strings.NewReader(`{"query":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDialogue_InvalidBody(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/agents/qa/dialogue", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	// generate at least one counted request first
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "parley_http_requests_total")
}
