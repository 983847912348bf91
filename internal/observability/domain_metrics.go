package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_questions_total",
			Help: "Total number of questions processed by the pipeline, by outcome.",
		},
		[]string{"outcome"},
	)
	correctionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_corrections_total",
			Help: "Total number of zero-result correction retries attempted.",
		},
	)
	correctionRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_correction_recoveries_total",
			Help: "Total number of correction retries that produced rows.",
		},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_validation_rejections_total",
			Help: "Total number of generated statements rejected by the validator, by rule.",
		},
		[]string{"rule"},
	)
	generationLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_generation_latency_seconds",
			Help:    "Completion-service latency for SQL generation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)
	executionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_execution_latency_seconds",
			Help:    "Database latency for validated statement execution.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		correctionsTotal,
		correctionRecoveriesTotal,
		validationRejectionsTotal,
		generationLatencySeconds,
		executionLatencySeconds,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveCorrection(recovered bool) {
	correctionsTotal.Inc()
	if recovered {
		correctionRecoveriesTotal.Inc()
	}
}

func ObserveValidationRejection(rule string) {
	validationRejectionsTotal.WithLabelValues(rule).Inc()
}

func ObserveGenerationLatency(elapsed time.Duration) {
	generationLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveExecutionLatency(elapsed time.Duration) {
	executionLatencySeconds.Observe(elapsed.Seconds())
}
