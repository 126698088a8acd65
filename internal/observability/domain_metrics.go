package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_pipeline_requests_total",
			Help: "Total number of answered questions by outcome kind (ok or error kind).",
		},
		[]string{"outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querybridge_pipeline_stage_duration_seconds",
			Help:    "Latency of pipeline stages (generation, execution).",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"stage"},
	)
	sqlExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_sql_extractions_total",
			Help: "SQL extraction attempts by matcher that fired (none when rejected).",
		},
		[]string{"matcher"},
	)
	remoteExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_remote_executions_total",
			Help: "Remote command executions by result.",
		},
		[]string{"result"},
	)
	droppedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querybridge_dropped_rows_total",
			Help: "Total number of malformed output rows dropped during normalization.",
		},
	)
	returnedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querybridge_returned_rows_total",
			Help: "Total number of records returned to callers.",
		},
	)
	registryState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querybridge_registry_state",
			Help: "Current session registry state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)
	registryInitializationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_registry_initializations_total",
			Help: "Session registry initialization attempts by result.",
		},
		[]string{"result"},
	)
)

var registryStates = []string{"uninitialized", "initializing", "ready", "degraded", "closed"}

func init() {
	prometheus.MustRegister(
		pipelineRequestsTotal,
		pipelineStageDurationSeconds,
		sqlExtractionsTotal,
		remoteExecutionsTotal,
		droppedRowsTotal,
		returnedRowsTotal,
		registryState,
		registryInitializationsTotal,
	)
}

func ObservePipelineOutcome(outcome string) {
	pipelineRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveExtraction(matcher string) {
	if matcher == "" {
		matcher = "none"
	}
	sqlExtractionsTotal.WithLabelValues(matcher).Inc()
}

func ObserveRemoteExecution(result string) {
	remoteExecutionsTotal.WithLabelValues(result).Inc()
}

func ObserveRows(returned, dropped int) {
	if returned > 0 {
		returnedRowsTotal.Add(float64(returned))
	}
	if dropped > 0 {
		droppedRowsTotal.Add(float64(dropped))
	}
}

func SetRegistryState(state string) {
	for _, candidate := range registryStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		registryState.WithLabelValues(candidate).Set(value)
	}
}

func ObserveRegistryInitialization(result string) {
	registryInitializationsTotal.WithLabelValues(result).Inc()
}
