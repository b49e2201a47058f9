package events

import (
	"fmt"
	"net/http"
)

// SSEWriter streams frames to an http.ResponseWriter. NewSSEWriter sets the
// response headers; every Write is flushed immediately.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported: response writer is not a flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Write(frame Frame) error {
	record, err := frame.MarshalSSE()
	if err != nil {
		return err
	}
	if _, err := s.w.Write(record); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
