package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/memory"
)

const deepThinkTimeout = 120 * time.Second

// runDeepThink delegates to the agent's external reasoning endpoint and
// relays its SSE data lines as tool frames. Memory is read for context but
// never written; no persistent record is appended.
func (e *Executor) runDeepThink(ctx context.Context, sink *frameSink, query, conversationID string) string {
	sink.emit(events.Status("task understanding"))

	ctx, cancel := context.WithTimeout(ctx, deepThinkTimeout)
	defer cancel()

	payload := map[string]any{
		"query":           query,
		"conversation_id": conversationID,
	}
	if e.deps.Store != nil {
		depth := e.agent.HistoryDepth
		if depth <= 0 {
			depth = memory.DefaultHistoryDepth
		}
		records, err := e.deps.Store.Recent(ctx, conversationID, depth)
		if err != nil {
			slog.Warn("Could not load conversation history", "conversation", conversationID, "error", err)
		} else if len(records) > 0 {
			payload["context"] = memory.FlattenHistory(records)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		sink.emit(events.Error("could not build the reasoning request"))
		return "error"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.agent.DeepThinkURL, bytes.NewReader(body))
	if err != nil {
		sink.emit(events.Error("could not build the reasoning request"))
		return "error"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.deepThink.Do(req)
	if err != nil {
		slog.Error("Deep-think request failed", "agent", e.agent.Name, "error", err)
		sink.emit(events.Error("the reasoning backend is unreachable"))
		return "error"
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sink.emit(events.Error(fmt.Sprintf("the reasoning backend returned status %d", resp.StatusCode)))
		return "error"
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			continue
		}
		lines = append(lines, line)
		if !sink.emit(events.Tool("deep_think", line)) {
			return "cancelled"
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "cancelled"
		}
		slog.Error("Deep-think stream failed", "agent", e.agent.Name, "error", err)
		sink.emit(events.Error("the reasoning stream was interrupted"))
		return "error"
	}

	sink.emit(events.Message(strings.Join(lines, "\n")))
	return "ok"
}
