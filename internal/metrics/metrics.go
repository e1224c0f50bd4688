// Package metrics exposes Prometheus counters for the quiz workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QuizGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_quiz_generations_total",
			Help: "Quiz generation requests by outcome",
		},
		[]string{"status"}, // success, provider_error, invalid, timeout
	)

	QuizGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stepwise_quiz_generation_duration_seconds",
			Help:    "Time spent waiting for the quiz content provider",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	QuizAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_quiz_attempts_total",
			Help: "Recorded quiz attempts by result",
		},
		[]string{"result"}, // passed, failed
	)

	CooldownBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepwise_quiz_cooldown_blocks_total",
			Help: "Quiz starts or submissions rejected by an active cooldown",
		},
	)

	LessonsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_lessons_completed_total",
			Help: "Lessons marked completed by trigger",
		},
		[]string{"via"}, // quiz, manual
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_persistence_failures_total",
			Help: "Failed writes to the record store by operation",
		},
		[]string{"op"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
