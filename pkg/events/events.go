// Package events defines the typed frames a dialogue stream is made of and
// their server-sent-events serialization.
//
// A frame is a tagged union {Kind, Payload}. Core kinds are status, think,
// message, wallet, error and finish; tools may declare their own kinds
// (e.g. "token_analysis"), which flow through the envelope untouched.
package events

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindStatus  Kind = "status"
	KindThink   Kind = "think"
	KindMessage Kind = "message"
	KindWallet  Kind = "wallet"
	KindTool    Kind = "tool"
	KindError   Kind = "error"
	KindFinish  Kind = "finish"
)

// Frame is one event on the dialogue stream. Serialization is a pure
// function of the tag: `event: <kind>\ndata: <json>\n\n`.
type Frame struct {
	Kind    Kind
	Payload any
}

type StatusPayload struct {
	Message string `json:"message"`
	Tool    string `json:"tool,omitempty"`
}

type ThinkPayload struct {
	Text string `json:"text"`
}

type MessagePayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ToolPayload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// FinishPayload is the explicit end-of-sequence sentinel a tool sends on
// its frame channel. Result carries the tool's final textual contribution;
// Stop asks the reasoning loop to terminate after this tool.
type FinishPayload struct {
	Result string `json:"result,omitempty"`
	Stop   bool   `json:"stop,omitempty"`
}

func Status(message string) Frame {
	return Frame{Kind: KindStatus, Payload: StatusPayload{Message: message}}
}

func StatusTool(message, tool string) Frame {
	return Frame{Kind: KindStatus, Payload: StatusPayload{Message: message, Tool: tool}}
}

func Think(text string) Frame {
	return Frame{Kind: KindThink, Payload: ThinkPayload{Text: text}}
}

// Message builds the visible-answer frame. Text is markdown.
func Message(text string) Frame {
	return Frame{Kind: KindMessage, Payload: MessagePayload{Type: "markdown", Text: text}}
}

func Wallet(data any) Frame {
	return Frame{Kind: KindWallet, Payload: data}
}

func Tool(typ string, data any) Frame {
	return Frame{Kind: KindTool, Payload: ToolPayload{Type: typ, Data: data}}
}

// Custom builds a frame with a tool-declared kind.
func Custom(kind string, payload any) Frame {
	return Frame{Kind: Kind(kind), Payload: payload}
}

func Error(message string) Frame {
	return Frame{Kind: KindError, Payload: ErrorPayload{Message: message}}
}

func Finish(result string, stop bool) Frame {
	return Frame{Kind: KindFinish, Payload: FinishPayload{Result: result, Stop: stop}}
}

// IsFinish reports whether the frame is a tool's end-of-sequence sentinel.
func (f Frame) IsFinish() bool {
	return f.Kind == KindFinish
}

// FinishResult extracts the sentinel payload; zero values when f is not a
// finish frame.
func (f Frame) FinishResult() (string, bool) {
	p, ok := f.Payload.(FinishPayload)
	if !ok {
		return "", false
	}
	return p.Result, p.Stop
}

// MarshalSSE renders the frame as a complete SSE record.
func (f Frame) MarshalSSE() ([]byte, error) {
	payload := f.Payload
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", f.Kind, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Kind, data)), nil
}
