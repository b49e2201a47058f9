package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/observability"
	"github.com/parley-run/parley/pkg/registry"
)

// Registry maps tool names to tools and dispatches invocations. At most one
// invocation is in-flight per executor; the executor drains each tool's
// frame sequence before re-entering its loop.
type Registry struct {
	base *registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Tool]()}
}

func (r *Registry) Register(tool Tool) error {
	if err := r.base.Register(tool.Name(), tool); err != nil {
		return newRegistryError("register", "failed to register tool", err)
	}
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	return r.base.Get(name)
}

func (r *Registry) Names() []string {
	return r.base.Names()
}

func (r *Registry) Count() int {
	return r.base.Count()
}

// Dispatch resolves the invocation and executes the tool, wrapping its
// frame sequence with tracing and metrics. An unknown name returns a
// RegistryError; the caller records it as a tool-result turn so the model
// can self-correct.
func (r *Registry) Dispatch(ctx context.Context, ec ExecutorContext, inv *Invocation) (<-chan events.Frame, error) {
	tool, ok := r.base.Get(inv.Name)
	if !ok {
		return nil, newRegistryError("dispatch",
			fmt.Sprintf("tool '%s' not found (registered: %s)", inv.Name, strings.Join(r.base.Names(), ", ")), nil)
	}

	ctx, span := observability.Tracer().Start(ctx, "tool.execute")
	span.SetAttributes(
		attribute.String("tool.name", inv.Name),
		attribute.String("tool.type", inv.Type),
	)

	start := time.Now()
	frames, err := tool.Execute(ctx, ec, inv.Parameters)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		observability.ToolExecutions.WithLabelValues(inv.Name, "error").Inc()
		return nil, newRegistryError("dispatch", fmt.Sprintf("tool '%s' failed to start", inv.Name), err)
	}

	out := make(chan events.Frame, 8)
	go func() {
		defer close(out)
		defer span.End()

		outcome := "ok"
		for frame := range frames {
			if frame.Kind == events.KindError {
				outcome = "error"
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				span.SetStatus(codes.Error, "cancelled")
				observability.ToolExecutions.WithLabelValues(inv.Name, "cancelled").Inc()
				return
			}
		}

		observability.ToolExecutions.WithLabelValues(inv.Name, outcome).Inc()
		observability.ToolDuration.WithLabelValues(inv.Name).Observe(time.Since(start).Seconds())
	}()
	return out, nil
}

// RenderPrompt renders the registered tools into the model-facing
// instructions block: one entry per tool with its parameter schema, plus
// the fenced-JSON invocation shape the dispatcher parses.
func (r *Registry) RenderPrompt() string {
	names := r.base.Names()
	if len(names) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You can call the following tools. To call one, reply with a single fenced JSON block:\n\n")
	b.WriteString("```json\n{\"type\":\"function\",\"function\":{\"name\":\"<tool>\",\"parameters\":{}}}\n```\n\n")
	b.WriteString("Available tools:\n")

	for _, name := range names {
		tool, _ := r.base.Get(name)
		b.WriteString(fmt.Sprintf("- %s: %s", tool.Name(), tool.Description()))
		if schema := tool.Schema(); schema != nil {
			if data, err := json.Marshal(schema); err == nil {
				b.WriteString(fmt.Sprintf("\n  parameters: %s", data))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
