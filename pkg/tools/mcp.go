package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/httpclient"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpClientName      = "parley"
	mcpClientVersion   = "0.1.0"

	// mcpSSETimeout bounds reading one JSON-RPC response off an SSE body.
	mcpSSETimeout = 5 * time.Minute
)

// MCPConfig configures a connection to one MCP server.
//
// Transport support: stdio runs a subprocess through mcp-go; sse and
// streamable-http speak JSON-RPC over the retrying HTTP client.
type MCPConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Filter    []string          `yaml:"filter"`
}

// MCPSource discovers tools on an MCP server and exposes them through the
// Tool interface. The connection is established lazily on first use.
type MCPSource struct {
	cfg MCPConfig

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	sessionID  string
	tools      []Tool
	connected  bool
	filterSet  map[string]bool
}

func NewMCPSource(cfg MCPConfig) (*MCPSource, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp source '%s': either url or command is required", cfg.Name)
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &MCPSource{cfg: cfg, filterSet: filterSet}, nil
}

func (s *MCPSource) Name() string {
	return s.cfg.Name
}

// Tools lists the server's tools, connecting on first call.
func (s *MCPSource) Tools(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connect(ctx); err != nil {
			return nil, newRegistryError("mcp", fmt.Sprintf("failed to connect to MCP server '%s'", s.cfg.Name), err)
		}
	}
	return s.tools, nil
}

func (s *MCPSource) connect(ctx context.Context) error {
	if s.cfg.Command != "" || s.cfg.Transport == "stdio" {
		return s.connectStdio(ctx)
	}
	return s.connectHTTP(ctx)
}

func (s *MCPSource) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, envSlice(s.cfg.Env), s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: mcpClientName, Version: mcpClientVersion}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	var tools []Tool
	for _, mcpTool := range listResp.Tools {
		if s.filterSet != nil && !s.filterSet[mcpTool.Name] {
			continue
		}
		tools = append(tools, &mcpRemoteTool{
			source:   s,
			name:     mcpTool.Name,
			desc:     mcpTool.Description,
			schema:   convertMCPSchema(mcpTool.InputSchema),
			useStdio: true,
		})
	}

	s.stdio = mcpClient
	s.tools = tools
	s.connected = true

	slog.Info("Connected to MCP server (stdio)",
		"name", s.cfg.Name, "command", s.cfg.Command, "tools", len(tools))
	return nil
}

func (s *MCPSource) connectHTTP(ctx context.Context) error {
	s.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)

	initResp, err := s.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo":      map[string]any{"name": mcpClientName, "version": mcpClientVersion},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []Tool
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		if s.filterSet != nil && !s.filterSet[name] {
			continue
		}
		schema, _ := toolMap["inputSchema"].(map[string]any)
		tools = append(tools, &mcpRemoteTool{
			source: s,
			name:   name,
			desc:   desc,
			schema: schema,
		})
	}

	s.tools = tools
	s.connected = true

	slog.Info("Connected to MCP server (HTTP)",
		"name", s.cfg.Name, "url", s.cfg.URL, "transport", s.cfg.Transport, "tools", len(tools))
	return nil
}

// Close shuts down the connection; the source reconnects lazily if used
// again.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.tools = nil
	s.httpClient = nil
	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	return nil
}

type mcpRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type mcpRPCResponse struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      int          `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *mcpRPCError `json:"error,omitempty"`
}

type mcpRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *MCPSource) rpc(ctx context.Context, method string, params any) (*mcpRPCResponse, error) {
	body, err := json.Marshal(mcpRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}
	if s.sessionID != "" {
		req.Header.Set("mcp-session-id", s.sessionID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if sessionID := resp.Header.Get("mcp-session-id"); sessionID != "" {
		s.sessionID = sessionID
	}

	if resp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readMCPSSEResponse(resp.Body)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var parsed mcpRPCResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &parsed, nil
}

// readMCPSSEResponse reads the first complete JSON-RPC message off an SSE
// body.
func readMCPSSEResponse(body io.Reader) (*mcpRPCResponse, error) {
	type result struct {
		response *mcpRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		reader := bufio.NewReader(body)
		var data strings.Builder

		flush := func() *mcpRPCResponse {
			if data.Len() == 0 {
				return nil
			}
			var parsed mcpRPCResponse
			if err := json.Unmarshal([]byte(data.String()), &parsed); err == nil {
				return &parsed
			}
			data.Reset()
			return nil
		}

		for {
			line, err := reader.ReadBytes('\n')
			lineStr := strings.TrimSpace(string(line))

			if lineStr == "" {
				if parsed := flush(); parsed != nil {
					resultChan <- result{response: parsed}
					return
				}
			} else if strings.HasPrefix(lineStr, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}

			if err != nil {
				if parsed := flush(); parsed != nil {
					resultChan <- result{response: parsed}
					return
				}
				resultChan <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
				return
			}
		}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-time.After(mcpSSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", mcpSSETimeout)
	}
}

// mcpRemoteTool adapts one remote MCP tool to the Tool interface.
type mcpRemoteTool struct {
	source   *MCPSource
	name     string
	desc     string
	schema   map[string]any
	useStdio bool
}

func (t *mcpRemoteTool) Name() string           { return t.name }
func (t *mcpRemoteTool) Description() string    { return t.desc }
func (t *mcpRemoteTool) Schema() map[string]any { return t.schema }

func (t *mcpRemoteTool) Execute(ctx context.Context, ec ExecutorContext, args map[string]any) (<-chan events.Frame, error) {
	out := make(chan events.Frame, 2)

	go func() {
		defer close(out)

		text, callErr := t.call(ctx, args)

		emit := func(frame events.Frame) {
			select {
			case out <- frame:
			case <-ctx.Done():
			}
		}
		if callErr != nil {
			message := fmt.Sprintf("mcp tool %s failed: %v", t.name, callErr)
			emit(events.Error(message))
			emit(events.Finish(message, false))
			return
		}
		emit(events.Tool(t.name, text))
		emit(events.Finish(text, false))
	}()
	return out, nil
}

func (t *mcpRemoteTool) call(ctx context.Context, args map[string]any) (string, error) {
	if t.useStdio {
		return t.callStdio(ctx, args)
	}
	return t.callHTTP(ctx, args)
}

func (t *mcpRemoteTool) callStdio(ctx context.Context, args map[string]any) (string, error) {
	t.source.mu.Lock()
	mcpClient := t.source.stdio
	t.source.mu.Unlock()

	if mcpClient == nil {
		return "", fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

func (t *mcpRemoteTool) callHTTP(ctx context.Context, args map[string]any) (string, error) {
	t.source.mu.Lock()
	defer t.source.mu.Unlock()

	resp, err := t.source.rpc(ctx, "tools/call", map[string]any{
		"name":      t.name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		data, _ := json.Marshal(resp.Result)
		return string(data), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if cm["type"] == "text" {
					if text, ok := cm["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
	}
	joined := strings.Join(texts, "\n")
	if isError, _ := resultMap["isError"].(bool); isError {
		if joined == "" {
			joined = "unknown error"
		}
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func convertMCPSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
