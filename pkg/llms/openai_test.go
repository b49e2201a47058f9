package llms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func textDelta(text string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text)
}

func TestStream_TextChunksAndUsage(t *testing.T) {
	srv := sseServer(t, []string{
		textDelta("The "),
		textDelta("capital "),
		textDelta("is "),
		textDelta("Paris."),
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4}}`,
		"[DONE]",
	})
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "capital of France")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 5)

	var text strings.Builder
	for _, chunk := range chunks[:4] {
		assert.Equal(t, ChunkTypeText, chunk.Type)
		text.WriteString(chunk.Text)
	}
	assert.Equal(t, "The capital is Paris.", text.String())

	done := chunks[4]
	assert.Equal(t, ChunkTypeDone, done.Type)
	assert.Equal(t, 12, done.InputTokens)
	assert.Equal(t, 4, done.OutputTokens)
}

func TestStream_ReasoningContentBecomesThinking(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"pondering"}}]}`,
		textDelta("answer"),
		"[DONE]",
	})
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "q")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkTypeThinking, chunks[0].Type)
	assert.Equal(t, "pondering", chunks[0].Text)
	assert.Equal(t, ChunkTypeText, chunks[1].Type)
	assert.Equal(t, ChunkTypeDone, chunks[2].Type)
}

func TestStream_EOFWithoutDoneCompletes(t *testing.T) {
	srv := sseServer(t, []string{textDelta("partial")})
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "q")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkTypeText, chunks[0].Type)
	assert.Equal(t, ChunkTypeDone, chunks[1].Type)
}

func TestStream_ErrorBodySurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth_error"}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Contains(t, err.Error(), "401")
}

func TestStream_CancellationStopsConsumption(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", textDelta("first"))
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, "q")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, ChunkTypeText, first.Type)

	cancel()

	select {
	case _, open := <-ch:
		if open {
			// one in-flight chunk may still arrive; the channel must
			// close right after
			_, open = <-ch
			assert.False(t, open)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestNewOpenAIProvider_Validation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "m"})
	assert.Error(t, err)

	_, err = NewOpenAIProvider(OpenAIConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
