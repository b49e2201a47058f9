// Package tools implements the tool invocation subsystem: the registry and
// dispatcher, fenced-JSON invocation parsing, local generator tools, the
// HTTP tool invoker and the MCP tool source.
package tools

import (
	"context"
	"fmt"

	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/memory"
	"github.com/parley-run/parley/pkg/sensitive"
)

// ExecutorContext is the slice of executor state a tool may touch: the
// conversation id plus handles to the sensitive-data processor and the
// per-conversation scratch store. It breaks the executor↔tool cycle; tools
// never hold the executor itself.
type ExecutorContext struct {
	ConversationID string
	Sensitive      *sensitive.Processor
	Scratch        memory.ScratchStore
}

// Tool produces a lazy sequence of event frames. The channel is terminated
// by an explicit finish sentinel (events.Finish) carrying the tool's final
// textual contribution, then closed; error frames may precede the
// sentinel. Execute must honor ctx cancellation.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, ec ExecutorContext, args map[string]any) (<-chan events.Frame, error)
}

// RegistryError is the typed error of the tool subsystem.
type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func newRegistryError(action, message string, err error) *RegistryError {
	return &RegistryError{
		Component: "tools",
		Action:    action,
		Message:   message,
		Err:       err,
	}
}
