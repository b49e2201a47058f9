// Package httpclient provides an http.Client wrapper with bounded
// exponential-backoff retries for transport-class failures.
package httpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 1 * time.Second
	defaultMaxDelay   = 10 * time.Second
	defaultTimeout    = 60 * time.Second
)

// RetryClassifier decides whether a response status code is worth retrying.
// Network-level errors are always retried.
type RetryClassifier func(statusCode int) bool

type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	classifier RetryClassifier
	sleep      func(time.Duration)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

func WithRetryClassifier(classifier RetryClassifier) Option {
	return func(c *Client) {
		c.classifier = classifier
	}
}

// withSleep replaces the backoff sleeper. Tests only.
func withSleep(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		classifier: DefaultRetryClassifier,
		sleep:      time.Sleep,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryClassifier retries gateway-style upstream failures. Other
// statuses, 4xx included, are handed back to the caller untouched.
func DefaultRetryClassifier(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do issues the request, retrying transport-class failures with exponential
// backoff (baseDelay * 2^attempt, capped at maxDelay). Responses with
// non-retryable statuses are returned as-is, error-free; inspecting the
// status is the caller's business.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			}

			delay := c.backoff(attempt - 1)
			slog.Debug("Retrying HTTP request",
				"url", req.URL.String(),
				"attempt", attempt,
				"max", c.maxRetries,
				"delay", delay)
			c.sleep(delay)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			lastStatus = 0
			continue
		}

		if !c.classifier(resp.StatusCode) {
			return resp, nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		lastStatus = resp.StatusCode
		resp.Body.Close()
	}

	return nil, &RetryableError{
		StatusCode: lastStatus,
		Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
		RetryAfter: c.backoff(c.maxRetries),
		Err:        lastErr,
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}
