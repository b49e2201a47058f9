package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-run/parley/pkg/events"
)

// fake MCP server speaking JSON-RPC over plain HTTP
func mcpServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcpRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "initialize":
			json.NewEncoder(w).Encode(mcpRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}})
		case "tools/list":
			json.NewEncoder(w).Encode(mcpRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
				"tools": []any{
					map[string]any{
						"name":        "search",
						"description": "Searches the docs",
						"inputSchema": map[string]any{"type": "object"},
					},
					map[string]any{
						"name":        "hidden",
						"description": "Filtered out",
					},
				},
			}})
		case "tools/call":
			params := req.Params.(map[string]any)
			assert.Equal(t, "search", params["name"])
			json.NewEncoder(w).Encode(mcpRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "result text"},
				},
			}})
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}
	}))
}

func TestMCPSource_DiscoverFilterAndCall(t *testing.T) {
	srv := mcpServer(t)
	defer srv.Close()

	source, err := NewMCPSource(MCPConfig{
		Name:      "docs",
		Transport: "streamable-http",
		URL:       srv.URL,
		Filter:    []string{"search"},
	})
	require.NoError(t, err)

	tools, err := source.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name())
	assert.Equal(t, "Searches the docs", tools[0].Description())

	frames, err := tools[0].Execute(context.Background(), ExecutorContext{}, map[string]any{"q": "go"})
	require.NoError(t, err)

	got := drainFrames(t, frames)
	require.Len(t, got, 2)
	assert.Equal(t, events.KindTool, got[0].Kind)
	require.True(t, got[1].IsFinish())
	result, _ := got[1].FinishResult()
	assert.Equal(t, "result text", result)
}

func TestNewMCPSource_RequiresEndpoint(t *testing.T) {
	_, err := NewMCPSource(MCPConfig{Name: "bad"})
	assert.Error(t, err)
}
