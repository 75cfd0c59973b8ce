package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 是 airose 自己的 prometheus registry，不碰 DefaultRegisterer，
// 測試才能直接用 testutil 讀值。
var Registry = prometheus.NewRegistry()

var (
	NodeVisits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airose",
		Name:      "node_visits_total",
		Help:      "Graph node executions, by node.",
	}, []string{"node"})

	RouteDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airose",
		Name:      "route_decisions_total",
		Help:      "Supervisor routing decisions, by chosen next node.",
	}, []string{"next"})

	Turns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airose",
		Name:      "turns_total",
		Help:      "Conversation turns, by outcome.",
	}, []string{"outcome"})

	ToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airose",
		Name:      "tool_calls_total",
		Help:      "Tool invocations, by tool and outcome.",
	}, []string{"tool", "outcome"})

	ToolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "airose",
		Name:      "tool_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)

func init() {
	Registry.MustRegister(
		NodeVisits,
		RouteDecisions,
		Turns,
		ToolCalls,
		ToolDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveNode counts one execution of a graph node.
func ObserveNode(node string) {
	NodeVisits.WithLabelValues(node).Inc()
}

// ObserveRoute counts one supervisor decision.
func ObserveRoute(next string) {
	RouteDecisions.WithLabelValues(next).Inc()
}

// ObserveTurn counts a finished turn. outcome 通常是 ok / error / busy。
func ObserveTurn(outcome string) {
	Turns.WithLabelValues(outcome).Inc()
}

// ObserveToolCall records a tool invocation and its latency.
func ObserveToolCall(tool, outcome string, d time.Duration) {
	ToolCalls.WithLabelValues(tool, outcome).Inc()
	ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// Handler exposes Registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
