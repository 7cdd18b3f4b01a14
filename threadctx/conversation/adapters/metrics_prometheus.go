package adapters

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

const metricsNamespace = "threadctx"

// PrometheusMetrics exports turn, compaction and prompt-size measurements.
type PrometheusMetrics struct {
	turns              *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	compactions        *prometheus.CounterVec
	compactedMessages  prometheus.Counter
	compactionDuration prometheus.Histogram
	promptTokens       prometheus.Histogram
	promptMessages     prometheus.Histogram
}

// NewPrometheusMetrics registers the collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a conversation turn.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compactions_total",
			Help:      "Compaction attempts by outcome.",
		}, []string{"outcome"}),
		compactedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compacted_messages_total",
			Help:      "Messages folded into summaries.",
		}),
		compactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "compaction_duration_seconds",
			Help:      "Wall time of a compaction, including the summarization call.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "prompt_tokens",
			Help:      "Estimated tokens per assembled prompt.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		promptMessages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "prompt_messages",
			Help:      "Messages per assembled prompt, header included.",
			Buckets:   prometheus.LinearBuckets(1, 4, 10),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.turns, m.turnDuration, m.compactions, m.compactedMessages,
		m.compactionDuration, m.promptTokens, m.promptMessages,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *PrometheusMetrics) ObserveTurn(d time.Duration, err error) {
	m.turns.WithLabelValues(outcome(err)).Inc()
	m.turnDuration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) ObserveCompaction(removed int, d time.Duration, err error) {
	m.compactions.WithLabelValues(outcome(err)).Inc()
	m.compactionDuration.Observe(d.Seconds())
	if err == nil {
		m.compactedMessages.Add(float64(removed))
	}
}

func (m *PrometheusMetrics) ObservePrompt(tokens, messages int) {
	m.promptTokens.Observe(float64(tokens))
	m.promptMessages.Observe(float64(messages))
}

var _ ports.Metrics = (*PrometheusMetrics)(nil)
