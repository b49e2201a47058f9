package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parley-run/parley/pkg/httpclient"
)

const (
	defaultTemperature = 0.7
	defaultTimeout     = 5 * time.Minute
)

// OpenAIConfig configures an OpenAI-compatible chat-completions backend.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIProvider streams from any endpoint speaking the chat-completions
// SSE dialect.
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *httpclient.Client
}

func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("model base URL is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &OpenAIProvider{
		config: config,
		// The overall timeout guards connection setup; stream lifetime is
		// bounded by the caller's ctx.
		httpClient: httpclient.New(httpclient.WithTimeout(config.Timeout)),
	}, nil
}

func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Stream sends the rendered transcript as a single user message and relays
// the SSE response chunk by chunk.
func (p *OpenAIProvider) Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(chatRequest{
		Model:         p.config.Model,
		Messages:      []chatMessage{{Role: "user", Content: prompt}},
		Temperature:   p.config.Temperature,
		MaxTokens:     p.config.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.parseErrorResponse(resp)
	}

	out := make(chan StreamChunk, 64)
	go p.readStream(ctx, resp.Body, out)
	return out, nil
}

func (p *OpenAIProvider) readStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	tracer := otel.Tracer("parley.llms")
	ctx, span := tracer.Start(ctx, "llm.stream")
	span.SetAttributes(attribute.String("llm.model", p.config.Model))
	defer span.End()

	emit := func(chunk StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var usage chatUsage
	reader := bufio.NewReader(body)
	for {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			if bytes.Equal(data, []byte("[DONE]")) {
				emit(StreamChunk{
					Type:         ChunkTypeDone,
					InputTokens:  usage.PromptTokens,
					OutputTokens: usage.CompletionTokens,
				})
				return
			}

			var chunk chatStreamResponse
			if err := json.Unmarshal(data, &chunk); err != nil {
				slog.Debug("Skipping malformed stream chunk", "error", err)
				continue
			}

			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.ReasoningContent != "" {
					if !emit(StreamChunk{Type: ChunkTypeThinking, Text: choice.Delta.ReasoningContent}) {
						return
					}
				}
				if choice.Delta.Content != "" {
					if !emit(StreamChunk{Type: ChunkTypeText, Text: choice.Delta.Content}) {
						return
					}
				}
			}
			continue
		}

		if err == io.EOF {
			// Stream ended without [DONE]; treat as complete.
			emit(StreamChunk{
				Type:         ChunkTypeDone,
				InputTokens:  usage.PromptTokens,
				OutputTokens: usage.CompletionTokens,
			})
			return
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			emit(StreamChunk{Type: ChunkTypeError, Error: fmt.Errorf("model stream read failed: %w", err)})
			return
		}
	}
}

func (p *OpenAIProvider) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("model request failed (HTTP %d, %s): %s",
			resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
	}
	return fmt.Errorf("model request failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
