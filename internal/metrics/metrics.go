package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	chunks       prometheus.Counter
	actions      *prometheus.CounterVec
	rejections   prometheus.Counter
	tokens       *prometheus.CounterVec
}

// New creates and registers the session collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pair",
				Name:      "turns_total",
				Help:      "Total number of assistant turns by outcome",
			},
			[]string{"status"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pair",
				Name:      "turn_duration_seconds",
				Help:      "Wall time of assistant turns in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
		),
		chunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pair",
				Name:      "stream_chunks_total",
				Help:      "Total number of streamed text fragments",
			},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pair",
				Name:      "actions_total",
				Help:      "Total number of user actions by name and outcome",
			},
			[]string{"action", "status"},
		),
		rejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pair",
				Name:      "workslot_rejections_total",
				Help:      "Exclusive tasks refused because another task held the slot",
			},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pair",
				Name:      "tokens_total",
				Help:      "Tokens reported by the assistant engine",
			},
			[]string{"engine", "kind"},
		),
	}
	reg.MustRegister(m.turns, m.turnDuration, m.chunks, m.actions, m.rejections, m.tokens)
	return m
}

// ObserveTurn records a finished turn
func (m *Metrics) ObserveTurn(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// AddChunk counts one streamed fragment
func (m *Metrics) AddChunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

// ObserveAction records the outcome of a named task
func (m *Metrics) ObserveAction(action string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.actions.WithLabelValues(action, status).Inc()
}

// Rejected counts a refused exclusive task
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// AddTokens records prompt and completion token counts for an engine
func (m *Metrics) AddTokens(engine string, input, output int64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(engine, "input").Add(float64(input))
	m.tokens.WithLabelValues(engine, "output").Add(float64(output))
}
