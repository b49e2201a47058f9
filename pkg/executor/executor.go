// Package executor runs the reason-act loop: it streams the model over the
// rendered transcript, splits think spans from visible text, routes tool
// invocations, and persists the turn when the stream ends.
package executor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parley-run/parley/pkg/config"
	"github.com/parley-run/parley/pkg/demux"
	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/httpclient"
	"github.com/parley-run/parley/pkg/llms"
	"github.com/parley-run/parley/pkg/memory"
	"github.com/parley-run/parley/pkg/observability"
	"github.com/parley-run/parley/pkg/sensitive"
	"github.com/parley-run/parley/pkg/tools"
	"github.com/parley-run/parley/pkg/utils"
)

const (
	defaultMaxLoops = 5
	defaultAnswer   = "I could not produce an answer this time. Please try again."

	finalizeTimeout = 10 * time.Second
)

// Retriever is the pluggable long-term retrieval interface. Results are
// injected into the transcript under the database role.
type Retriever interface {
	Retrieve(ctx context.Context, conversationID, query string) (string, error)
}

// Deps are the executor's collaborators. Model and Tools drive the loop;
// Store, Scratch and Sensitive back memory and masking; Retriever is
// optional.
type Deps struct {
	Model     llms.Client
	Tools     *tools.Registry
	Store     memory.Store
	Scratch   memory.ScratchStore
	Sensitive *sensitive.Processor
	Retriever Retriever
}

// Executor drives one agent's dialogue streams. An executor is safe for
// concurrent Stream calls; all per-request state lives in the stream's
// goroutine.
type Executor struct {
	agent config.AgentConfig
	deps  Deps

	deepThink *httpclient.Client
	now       func() time.Time
}

func New(agent config.AgentConfig, deps Deps) *Executor {
	return &Executor{
		agent:     agent,
		deps:      deps,
		deepThink: httpclient.New(httpclient.WithTimeout(0)),
		now:       time.Now,
	}
}

// loopState carries the loop's mutable state through one dialogue.
type loopState struct {
	responseBuffer string
	allResponses   []string
	shouldStop     bool
	visibleEmitted bool
	iterations     int
	failed         bool
}

// frameSink delivers frames to the consumer and latches dead once the
// consumer is gone, so later emits become no-ops instead of blocking.
type frameSink struct {
	ctx  context.Context
	out  chan<- events.Frame
	dead bool
}

func (s *frameSink) emit(f events.Frame) bool {
	if s.dead {
		return false
	}
	select {
	case s.out <- f:
		return true
	case <-s.ctx.Done():
		s.dead = true
		return false
	}
}

func (s *frameSink) closed() bool {
	return s.dead
}

// Stream starts a dialogue and returns its lazy frame sequence. The
// sequence ends with a final message frame or an error frame, then the
// channel closes. An empty query fails synchronously and leaves no trace.
func (e *Executor) Stream(ctx context.Context, query, conversationID string) (<-chan events.Frame, error) {
	if strings.TrimSpace(query) == "" {
		return nil, newError(KindInvalidInput, "query must not be empty", nil)
	}
	if conversationID == "" {
		return nil, newError(KindInvalidInput, "conversation id must not be empty", nil)
	}

	out := make(chan events.Frame, 100)
	go e.run(ctx, query, conversationID, out)
	return out, nil
}

func (e *Executor) run(ctx context.Context, query, conversationID string, out chan<- events.Frame) {
	defer close(out)

	ctx, span := observability.Tracer().Start(ctx, "executor.stream")
	span.SetAttributes(
		attribute.String("agent.name", e.agent.Name),
		attribute.String("agent.mode", e.agent.Mode),
		attribute.String("conversation.id", conversationID),
	)
	defer span.End()

	sink := &frameSink{ctx: ctx, out: out}

	if e.agent.Mode == config.ModeDeepThink {
		outcome := e.runDeepThink(ctx, sink, query, conversationID)
		observability.DialogueRequests.WithLabelValues(e.agent.Name, outcome).Inc()
		return
	}

	state := &loopState{}
	defer e.finalize(ctx, conversationID, query, state)
	defer func() {
		outcome := "ok"
		if state.failed {
			outcome = "error"
		}
		if sink.closed() || ctx.Err() != nil {
			outcome = "cancelled"
		}
		observability.DialogueRequests.WithLabelValues(e.agent.Name, outcome).Inc()
		observability.LoopIterations.Observe(float64(state.iterations))
	}()

	sink.emit(events.Status("task understanding"))

	mem := e.buildTranscript(ctx, conversationID)
	mem.Add(memory.RoleSystemTime, e.now().Format(time.RFC3339))
	mem.Add(memory.RoleUser, query)

	if e.deps.Retriever != nil {
		sink.emit(events.Status("load past context"))
		recalled, err := e.deps.Retriever.Retrieve(ctx, conversationID, query)
		if err != nil {
			slog.Warn("Retrieval failed", "conversation", conversationID, "error", err)
		} else if recalled != "" {
			mem.Add(memory.RoleDatabase, recalled)
		}
	}

	if e.agent.Mode == config.ModePrompt {
		e.runPrompt(ctx, sink, mem, state)
	} else {
		e.runReAct(ctx, sink, mem, conversationID, state)
	}

	if !state.visibleEmitted && !state.failed && !sink.closed() {
		answer := e.agent.DefaultAnswer
		if n := len(state.allResponses); n > 0 && state.allResponses[n-1] != "" {
			answer = state.allResponses[n-1]
		} else if answer == "" {
			answer = defaultAnswer
		}
		sink.emit(events.Message(answer))
	}
}

// buildTranscript seeds short-term memory: system prompt first, then role
// settings, the rendered tool block, and the flattened history turn.
func (e *Executor) buildTranscript(ctx context.Context, conversationID string) *memory.ShortTerm {
	mem := memory.NewShortTerm()

	if e.agent.SystemPrompt != "" {
		mem.Add(memory.RoleSystem, e.agent.SystemPrompt)
	}
	if e.agent.RoleSettings != "" {
		mem.Add(memory.RoleNone, e.agent.RoleSettings)
	}

	if e.agent.Mode == config.ModeReAct && e.deps.Tools != nil {
		if block := e.deps.Tools.RenderPrompt(); block != "" {
			if e.agent.ToolPrompt != "" {
				block = e.agent.ToolPrompt + "\n\n" + block
			}
			mem.Add(memory.RoleSystem, block)
		}
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
			if budget := e.agent.HistoryTokenBudget; budget > 0 {
				records = e.trimHistory(ctx, records, budget)
			}
			if len(records) > 0 {
				mem.Add(memory.RoleHistory, memory.FlattenHistory(records))
			}
		}
	}

	return mem
}

// trimHistory drops the oldest records until the history fits the token
// budget. Counting failures keep the history as is.
func (e *Executor) trimHistory(ctx context.Context, records []memory.Record, budget int) []memory.Record {
	for len(records) > 0 {
		chunks := make([]string, len(records))
		for i, rec := range records {
			chunks[i] = rec.Input + "\n" + rec.Output
		}
		total, err := utils.CountChunks(ctx, e.deps.Model.Model(), chunks)
		if err != nil {
			slog.Warn("Token counting failed, keeping history unchanged", "error", err)
			return records
		}
		if total <= budget {
			return records
		}
		records = records[1:]
	}
	return records
}

func (e *Executor) maxLoops() int {
	if e.agent.MaxLoops.Value > 0 {
		return e.agent.MaxLoops.Value
	}
	return defaultMaxLoops
}

func (e *Executor) runReAct(ctx context.Context, sink *frameSink, mem *memory.ShortTerm, conversationID string, state *loopState) {
	ec := tools.ExecutorContext{
		ConversationID: conversationID,
		Sensitive:      e.deps.Sensitive,
		Scratch:        e.deps.Scratch,
	}

	for k := 1; e.agent.MaxLoops.Auto || k <= e.maxLoops(); k++ {
		state.iterations = k
		if ctx.Err() != nil || sink.closed() {
			return
		}

		visible, stopped, err := e.callModel(ctx, sink, mem.Render(), state, true)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Model attempts exhausted", "agent", e.agent.Name, "iteration", k, "error", err)
				sink.emit(events.Error("the model backend is unavailable"))
				state.failed = true
			}
			return
		}

		state.responseBuffer = visible
		state.allResponses = append(state.allResponses, visible)
		mem.Add(memory.RoleAssistant, visible)

		if stopped {
			// message frame already emitted by the stop predicate
			state.shouldStop = true
			state.visibleEmitted = true
			return
		}

		inv, ok := tools.ParseInvocation(visible)
		if !ok {
			// a response with no tool call is the final answer
			if sink.emit(events.Message(visible)) {
				state.visibleEmitted = true
			}
			state.shouldStop = true
			return
		}

		sink.emit(events.StatusTool("executing tool", inv.Name))
		result, stop := e.dispatch(ctx, sink, ec, inv)
		mem.Add(memory.RoleToolResult, result)
		if stop {
			state.shouldStop = true
			return
		}
	}
}

// runPrompt forwards a single model stream: no tool parsing, no stop
// predicate, one final message frame.
func (e *Executor) runPrompt(ctx context.Context, sink *frameSink, mem *memory.ShortTerm, state *loopState) {
	state.iterations = 1

	visible, _, err := e.callModel(ctx, sink, mem.Render(), state, false)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Model attempts exhausted", "agent", e.agent.Name, "error", err)
			sink.emit(events.Error("the model backend is unavailable"))
			state.failed = true
		}
		return
	}

	state.responseBuffer = visible
	state.allResponses = append(state.allResponses, visible)
	mem.Add(memory.RoleAssistant, visible)

	if sink.emit(events.Message(visible)) {
		state.visibleEmitted = true
	}
	state.shouldStop = true
}

// callModel runs one loop iteration's model stream with up to retry
// attempts. Cancellation is not retried.
func (e *Executor) callModel(ctx context.Context, sink *frameSink, transcript string, state *loopState, useStop bool) (string, bool, error) {
	retries := e.agent.Retry
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		visible, stopped, err := e.streamOnce(ctx, sink, transcript, useStop)
		if err == nil {
			return visible, stopped, nil
		}
		if ctx.Err() != nil {
			// keep the partial output for finalization
			state.responseBuffer = visible
			return visible, stopped, newError(KindCancelled, "dialogue cancelled", ctx.Err())
		}
		lastErr = err
		slog.Warn("Model stream attempt failed", "agent", e.agent.Name, "attempt", attempt, "error", err)
	}
	return "", false, newError(KindModelTransport, "all model attempts failed", lastErr)
}

// streamOnce consumes one model stream through the demultiplexer. Think
// output is emitted immediately; visible output accumulates and, when the
// stop predicate matches, is emitted as the message frame with stopped
// latched.
func (e *Executor) streamOnce(ctx context.Context, sink *frameSink, transcript string, useStop bool) (string, bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := e.deps.Model.Stream(streamCtx, transcript)
	if err != nil {
		return "", false, err
	}

	d := demux.New(demux.DefaultWindow)
	var visible strings.Builder
	stopped := false

	flush := func(evs []demux.Event) bool {
		for _, ev := range evs {
			switch ev.Kind {
			case demux.Think:
				sink.emit(events.Think(ev.Text))
			case demux.Visible:
				visible.WriteString(ev.Text)
				if useStop && e.matchesStopWord(visible.String()) {
					stopped = true
					return false
				}
			}
		}
		return true
	}

	var streamErr error
loop:
	for chunk := range chunks {
		if sink.closed() {
			cancel()
			break
		}
		switch chunk.Type {
		case llms.ChunkTypeText:
			if !flush(d.FeedString(chunk.Text)) {
				cancel()
				break loop
			}
		case llms.ChunkTypeThinking:
			if chunk.Text != "" {
				sink.emit(events.Think(chunk.Text))
			}
		case llms.ChunkTypeError:
			streamErr = chunk.Error
			cancel()
			break loop
		case llms.ChunkTypeDone:
		}
	}
	for range chunks {
	}

	if streamErr != nil {
		return visible.String(), false, streamErr
	}

	if !stopped {
		visTail, thinkTail := d.Drain()
		if thinkTail != "" {
			sink.emit(events.Think(thinkTail))
		}
		if visTail != "" {
			visible.WriteString(visTail)
			if useStop && e.matchesStopWord(visible.String()) {
				stopped = true
			}
		}
	}

	if stopped {
		sink.emit(events.Message(visible.String()))
	}

	if err := ctx.Err(); err != nil {
		return visible.String(), stopped, err
	}
	return visible.String(), stopped, nil
}

func (e *Executor) matchesStopWord(s string) bool {
	for _, w := range e.agent.StopWords {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// dispatch executes one tool invocation and relays its frames. Failures
// never escape; their text becomes the tool-result turn so the model can
// self-correct.
func (e *Executor) dispatch(ctx context.Context, sink *frameSink, ec tools.ExecutorContext, inv *tools.Invocation) (string, bool) {
	frames, err := e.deps.Tools.Dispatch(ctx, ec, inv)
	if err != nil {
		slog.Warn("Tool dispatch failed", "tool", inv.Name, "error", err)
		return err.Error(), false
	}

	var result string
	var stop bool
	for frame := range frames {
		if frame.IsFinish() {
			result, stop = frame.FinishResult()
			continue
		}
		sink.emit(frame)
	}
	return result, stop
}

// finalize is the always-run tail: persist the turn, then clear sensitive
// mappings and scratch context. Failures are logged, never raised.
func (e *Executor) finalize(ctx context.Context, conversationID, query string, state *loopState) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if e.deps.Store != nil {
		rec := memory.Record{
			Input:  query,
			Output: state.responseBuffer,
			Time:   e.now(),
		}
		if e.deps.Scratch != nil {
			rec.TempData = e.collectTempData(ctx, conversationID)
		}
		if err := e.deps.Store.Append(ctx, conversationID, rec); err != nil {
			slog.Warn("Could not persist conversation turn", "conversation", conversationID, "error", err)
		}
	}

	if e.deps.Sensitive != nil {
		if err := e.deps.Sensitive.Cleanup(ctx, conversationID); err != nil {
			slog.Warn("Could not clear sensitive mappings", "conversation", conversationID, "error", err)
		}
	}
	if e.deps.Scratch != nil {
		if err := e.deps.Scratch.Clear(ctx, conversationID); err != nil {
			slog.Warn("Could not clear scratch context", "conversation", conversationID, "error", err)
		}
	}
}

func (e *Executor) collectTempData(ctx context.Context, conversationID string) map[string]any {
	scenarios, err := e.deps.Scratch.Scenarios(ctx, conversationID)
	if err != nil || len(scenarios) == 0 {
		return nil
	}

	temp := make(map[string]any, len(scenarios))
	for _, scenario := range scenarios {
		if value, ok, err := e.deps.Scratch.Get(ctx, conversationID, scenario); err == nil && ok {
			temp[scenario] = value
		}
	}
	return temp
}
