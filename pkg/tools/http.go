package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/httpclient"
	"github.com/parley-run/parley/pkg/sensitive"
)

const (
	defaultUnaryTimeout = 60 * time.Second

	bucketHeader = "header"
	bucketQuery  = "query"
	bucketPath   = "path"
	bucketBody   = "body"
)

// ParameterPartition declares which argument keys bind to which request
// component, with optional defaults. Undeclared keys fall into the body
// bucket.
type ParameterPartition struct {
	Header map[string]any `yaml:"header" json:"header"`
	Query  map[string]any `yaml:"query" json:"query"`
	Path   map[string]any `yaml:"path" json:"path"`
	Body   map[string]any `yaml:"body" json:"body"`
}

// AuthConfig injects a static credential into the request.
// Location is "header" or "param".
type AuthConfig struct {
	Location string `yaml:"location" json:"location"`
	Key      string `yaml:"key" json:"key"`
	Value    string `yaml:"value" json:"value"`
}

// HTTPDescriptor describes a remote HTTP tool.
type HTTPDescriptor struct {
	ID          string
	Name        string
	Description string
	Origin      string
	Path        string
	Method      string
	Partition   ParameterPartition
	Auth        *AuthConfig
	IsStream    bool
	// FrameType labels the tool frames this tool emits (e.g.
	// "token_analysis"); empty means the generic tool kind.
	FrameType string
	Sensitive sensitive.Config
	Timeout   time.Duration
	Schema    map[string]any
}

// HTTPTool invokes a remote endpoint: bucket binding, sensitive-data
// recovery, auth injection, then a unary or streaming exchange. Transport
// failures surface as error tool-frames, never as loop errors.
type HTTPTool struct {
	desc   HTTPDescriptor
	client *httpclient.Client
}

func NewHTTPTool(desc HTTPDescriptor) (*HTTPTool, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("http tool name is required")
	}
	if desc.Origin == "" {
		return nil, fmt.Errorf("http tool '%s': origin is required", desc.Name)
	}
	if desc.Method == "" {
		desc.Method = http.MethodGet
	}
	desc.Method = strings.ToUpper(desc.Method)
	if desc.Timeout <= 0 {
		desc.Timeout = defaultUnaryTimeout
	}

	return &HTTPTool{
		desc:   desc,
		client: httpclient.New(httpclient.WithTimeout(0)),
	}, nil
}

func (t *HTTPTool) Name() string           { return t.desc.Name }
func (t *HTTPTool) Description() string    { return t.desc.Description }
func (t *HTTPTool) Schema() map[string]any { return t.desc.Schema }

func (t *HTTPTool) frameType() string {
	if t.desc.FrameType != "" {
		return t.desc.FrameType
	}
	return t.desc.Name
}

func (t *HTTPTool) Execute(ctx context.Context, ec ExecutorContext, args map[string]any) (<-chan events.Frame, error) {
	out := make(chan events.Frame, 8)

	emit := func(frame events.Frame) {
		select {
		case out <- frame:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)

		if !t.desc.IsStream {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.desc.Timeout)
			defer cancel()
		}

		resp, err := t.request(ctx, ec, args)
		if err != nil {
			message := fmt.Sprintf("tool %s request failed: %v", t.desc.Name, err)
			emit(events.Error(message))
			emit(events.Finish(message, false))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
			message := fmt.Sprintf("tool %s returned HTTP %d: %s",
				t.desc.Name, resp.StatusCode, strings.TrimSpace(string(body)))
			emit(events.Error(message))
			emit(events.Finish(message, false))
			return
		}

		if t.desc.IsStream {
			t.relayStream(ctx, resp.Body, emit)
			return
		}
		t.relayUnary(ctx, ec, resp, emit)
	}()
	return out, nil
}

// request builds and issues the HTTP request: partition arguments, recover
// sensitive parameters, apply defaults, interpolate the path, inject auth.
func (t *HTTPTool) request(ctx context.Context, ec ExecutorContext, args map[string]any) (*http.Response, error) {
	buckets := t.partition(args)

	if ec.Sensitive != nil && !t.desc.Sensitive.Empty() {
		recoverable := t.desc.Sensitive.Parameters.RecoverableFields
		ec.Sensitive.RecoverBucket(ctx, ec.ConversationID, buckets[bucketHeader], recoverable)
		ec.Sensitive.RecoverBucket(ctx, ec.ConversationID, buckets[bucketQuery], recoverable)
		ec.Sensitive.RecoverBucket(ctx, ec.ConversationID, buckets[bucketPath], recoverable)
		ec.Sensitive.RecoverBucket(ctx, ec.ConversationID, buckets[bucketBody], recoverable)
		ec.Sensitive.RecoverNested(ctx, ec.ConversationID, buckets[bucketBody], t.desc.Sensitive.Parameters.NestedFields)
	}

	applyDefaults(buckets[bucketHeader], t.desc.Partition.Header)
	applyDefaults(buckets[bucketQuery], t.desc.Partition.Query)
	applyDefaults(buckets[bucketPath], t.desc.Partition.Path)
	applyDefaults(buckets[bucketBody], t.desc.Partition.Body)

	path := t.desc.Path
	for key, value := range buckets[bucketPath] {
		path = strings.ReplaceAll(path, "{"+key+"}", stringify(value))
	}
	endpoint := strings.TrimSuffix(t.desc.Origin, "/") + path

	query := url.Values{}
	for key, value := range buckets[bucketQuery] {
		query.Set(key, stringify(value))
	}

	if t.desc.Auth != nil {
		switch t.desc.Auth.Location {
		case "param":
			query.Set(t.desc.Auth.Key, t.desc.Auth.Value)
		default:
			buckets[bucketHeader][t.desc.Auth.Key] = t.desc.Auth.Value
		}
	}

	var body io.Reader
	if len(buckets[bucketBody]) > 0 && t.desc.Method != http.MethodGet {
		encoded, err := json.Marshal(buckets[bucketBody])
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, t.desc.Method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	for key, value := range buckets[bucketHeader] {
		req.Header.Set(key, stringify(value))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return t.client.Do(req)
}

// partition splits arguments into the four buckets. Arguments that arrive
// already bucketed (the "api" invocation shape) pass through; flat
// arguments bind to their declared bucket, defaulting to body.
func (t *HTTPTool) partition(args map[string]any) map[string]map[string]any {
	buckets := map[string]map[string]any{
		bucketHeader: {},
		bucketQuery:  {},
		bucketPath:   {},
		bucketBody:   {},
	}

	if isBucketed(args) {
		for name := range buckets {
			if values, ok := args[name].(map[string]any); ok {
				for key, value := range values {
					buckets[name][key] = value
				}
			}
		}
		return buckets
	}

	for key, value := range args {
		switch {
		case hasKey(t.desc.Partition.Header, key):
			buckets[bucketHeader][key] = value
		case hasKey(t.desc.Partition.Query, key):
			buckets[bucketQuery][key] = value
		case hasKey(t.desc.Partition.Path, key):
			buckets[bucketPath][key] = value
		default:
			buckets[bucketBody][key] = value
		}
	}
	return buckets
}

func (t *HTTPTool) relayUnary(ctx context.Context, ec ExecutorContext, resp *http.Response, emit func(events.Frame)) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		message := fmt.Sprintf("tool %s response read failed: %v", t.desc.Name, err)
		emit(events.Error(message))
		emit(events.Finish(message, false))
		return
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		text := string(body)
		emit(events.Tool(t.frameType(), text))
		emit(events.Finish(text, false))
		return
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		message := fmt.Sprintf("tool %s returned malformed JSON: %v", t.desc.Name, err)
		emit(events.Error(message))
		emit(events.Finish(message, false))
		return
	}

	if ec.Sensitive != nil && len(t.desc.Sensitive.Response.SensitiveFields) > 0 {
		masked, err := ec.Sensitive.MaskResponse(ctx, ec.ConversationID, value, t.desc.Sensitive.Response.SensitiveFields)
		if err != nil {
			message := fmt.Sprintf("tool %s masking failed: %v", t.desc.Name, err)
			emit(events.Error(message))
			emit(events.Finish(message, false))
			return
		}
		value = masked
	}

	emit(events.Tool(t.frameType(), value))

	serialized, err := json.Marshal(value)
	if err != nil {
		emit(events.Finish(fmt.Sprintf("%v", value), false))
		return
	}
	emit(events.Finish(string(serialized), false))
}

// relayStream forwards each response line as a tool-frame. No post-hoc
// masking is applied to streaming bodies.
func (t *HTTPTool) relayStream(ctx context.Context, body io.Reader, emit func(events.Frame)) {
	var collected strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			continue
		}

		emit(events.Tool(t.frameType(), line))
		if collected.Len() > 0 {
			collected.WriteString("\n")
		}
		collected.WriteString(line)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(events.Error(fmt.Sprintf("tool %s stream read failed: %v", t.desc.Name, err)))
	}
	emit(events.Finish(collected.String(), false))
}

func isBucketed(args map[string]any) bool {
	if len(args) == 0 {
		return false
	}
	for key, value := range args {
		switch key {
		case bucketHeader, bucketQuery, bucketPath, bucketBody:
			if _, ok := value.(map[string]any); !ok {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func hasKey(declared map[string]any, key string) bool {
	_, ok := declared[key]
	return ok
}

func applyDefaults(bucket map[string]any, declared map[string]any) {
	for key, value := range declared {
		if value == nil {
			continue
		}
		if _, ok := bucket[key]; !ok {
			bucket[key] = value
		}
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing .0
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
