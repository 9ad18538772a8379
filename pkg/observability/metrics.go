package observability

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aixgo-dev/cortex/agent"
)

var (
	// Dispatch metrics
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_dispatches_total",
			Help: "Total number of messages dispatched to agents",
		},
		[]string{"agent", "intent"},
	)

	// Propagation metrics
	propagationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_propagations_total",
			Help: "Total number of propagations by outcome",
		},
		[]string{"status"},
	)

	propagationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_propagation_duration_seconds",
			Help:    "Propagation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	propagationReplies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortex_propagation_replies",
			Help:    "Replies produced by a single propagation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Executive metrics
	executiveDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_executive_decisions_total",
			Help: "Total number of forward passes that chose an action",
		},
		[]string{"executive", "lookahead"},
	)

	executiveChosenCost = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_executive_chosen_cost",
			Help:    "Predicted cost of the chosen action",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
		[]string{"executive"},
	)

	executivePredictionError = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_executive_prediction_error",
			Help: "Last prediction error (predicted minus actual loss)",
		},
		[]string{"executive"},
	)

	// System metrics
	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			dispatchesTotal,
			propagationsTotal,
			propagationDuration,
			propagationReplies,
			executiveDecisionsTotal,
			executiveChosenCost,
			executivePredictionError,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordDispatch records a dispatch of intent to agent
func RecordDispatch(agent, intent string) {
	dispatchesTotal.WithLabelValues(agent, intent).Inc()
}

// RecordPropagation records a finished propagation
func RecordPropagation(status string, replies int, duration time.Duration) {
	propagationsTotal.WithLabelValues(status).Inc()
	propagationDuration.WithLabelValues(status).Observe(duration.Seconds())
	propagationReplies.Observe(float64(replies))
}

// RecordDecision records an executive forward pass
func RecordDecision(executive, lookahead string, cost float64) {
	executiveDecisionsTotal.WithLabelValues(executive, lookahead).Inc()
	executiveChosenCost.WithLabelValues(executive).Observe(cost)
}

// SetPredictionError sets the last prediction error of an executive
func SetPredictionError(executive string, err float64) {
	executivePredictionError.WithLabelValues(executive).Set(err)
}

// UpdateGoroutines samples the goroutine gauge
func UpdateGoroutines() {
	goroutines.Set(float64(runtime.NumGoroutine()))
}

// DispatchCounter returns a listener that counts every dispatch it observes.
// Register it on an event bus under agent.AllIntents.
func DispatchCounter() agent.Listener {
	return func(_ context.Context, ev agent.Event) error {
		RecordDispatch(ev.Agent, ev.Intent)
		return nil
	}
}
