// Package observability exposes the runtime's tracer and prometheus
// collectors. Exporter wiring is a deployment concern; the API-level
// instrumentation here works against whatever provider the process
// installs.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "parley"

// Tracer returns the runtime's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

var (
	// DialogueRequests counts dialogue streams by agent and outcome.
	DialogueRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_dialogue_requests_total",
		Help: "Dialogue requests by agent and outcome.",
	}, []string{"agent", "outcome"})

	// LoopIterations observes reason-act iterations per dialogue.
	LoopIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_loop_iterations",
		Help:    "Reason-act loop iterations per dialogue.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	// ToolExecutions counts tool dispatches by tool and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_tool_executions_total",
		Help: "Tool executions by tool and outcome.",
	}, []string{"tool", "outcome"})

	// ToolDuration observes wall time per tool execution.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_tool_duration_seconds",
		Help:    "Tool execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	// HTTPRequests counts requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request wall time by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
