package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Invocation kinds the model may emit.
const (
	InvocationFunction = "function"
	InvocationAPI      = "api"
	InvocationMCP      = "mcp"
)

// Invocation is a structured tool call parsed out of model output.
// For the "api" kind Parameters holds the four buckets
// (header/query/path/body); for the others it holds flat arguments.
type Invocation struct {
	Type       string
	Name       string
	Parameters map[string]any
}

var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_-]*)[ \t]*\r?\n(.*?)```")

type wireInvocation struct {
	Type     string `json:"type"`
	Function struct {
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters"`
	} `json:"function"`
}

// ParseInvocation extracts a tool call from model output. The first fenced
// code block whose language hint is `json` (or absent) is attempted; if it
// does not parse into a known invocation shape the whole text is treated
// as plain visible text and (nil, false) is returned.
func ParseInvocation(text string) (*Invocation, bool) {
	for _, match := range fenceRe.FindAllStringSubmatch(text, -1) {
		hint := strings.ToLower(match[1])
		if hint != "" && hint != "json" {
			continue
		}
		return parseBlock(match[2])
	}
	return nil, false
}

func parseBlock(block string) (*Invocation, bool) {
	var wire wireInvocation
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &wire); err != nil {
		return nil, false
	}

	switch wire.Type {
	case InvocationFunction, InvocationAPI, InvocationMCP:
	default:
		return nil, false
	}
	if wire.Function.Name == "" {
		return nil, false
	}

	params := wire.Function.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return &Invocation{
		Type:       wire.Type,
		Name:       wire.Function.Name,
		Parameters: params,
	}, true
}
