package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	ExtractTotal     *prometheus.CounterVec
	Confidence       prometheus.Histogram
	LLMCallsTotal    *prometheus.CounterVec
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	LLMDuration      *prometheus.HistogramVec
	LLMRetriesTotal  prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewise_analyses_total",
			Help: "Total ticket analyses by synthesis outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewise_analysis_duration_seconds",
			Help:    "Duration of full ticket analyses in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewise_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms .. ~65s
		}, []string{"stage"}),
		ExtractTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewise_extract_total",
			Help: "Account identifier resolutions by strategy.",
		}, []string{"strategy"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "casewise_confidence_score",
			Help:    "Confidence score of completed analyses.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewise_llm_calls_total",
			Help: "Total LLM provider calls by purpose and status.",
		}, []string{"purpose", "status"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casewise_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casewise_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewise_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"purpose"}),
		LLMRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casewise_llm_retries_total",
			Help: "Rate-limited LLM calls that were retried after backoff.",
		}),
	}

	reg.MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.StageDuration,
		m.ExtractTotal,
		m.Confidence,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.LLMRetriesTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(purpose string, inputTokens, outputTokens int, duration float64, err error) {
			status := "success"
			switch {
			case IsRateLimited(err):
				status = "rate_limited"
			case err != nil:
				status = "error"
			}
			m.LLMCallsTotal.WithLabelValues(purpose, status).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.WithLabelValues(purpose).Observe(duration)
		},
		OnRetry: func(_ int, _ time.Duration) {
			m.LLMRetriesTotal.Inc()
		},
		OnStage: func(stage string, duration float64) {
			m.StageDuration.WithLabelValues(stage).Observe(duration)
		},
		OnExtract: func(strategy Strategy) {
			m.ExtractTotal.WithLabelValues(string(strategy)).Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.AnalysesTotal.WithLabelValues(string(e.Outcome)).Inc()
			m.AnalysisDuration.WithLabelValues(string(e.Outcome)).Observe(e.Duration)
			m.Confidence.Observe(e.Confidence)
		},
	}
}
