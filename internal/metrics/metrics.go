// Package metrics records pipeline activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/router"
)

// Recorder holds the qafactory collectors. A nil *Recorder records nothing.
type Recorder struct {
	attemptsTotal  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	fetchTotal     *prometheus.CounterVec
	unitsTotal     *prometheus.CounterVec
	collabCalls    *prometheus.CounterVec
	collabDuration *prometheus.HistogramVec
	decisionsTotal *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	backwardPerRun prometheus.Histogram
	runsInFlight   prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// for the process-wide registry.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qafactory_stage_attempts_total",
				Help: "Stage attempts by stage, verdict and failure kind",
			},
			[]string{"stage", "verdict", "kind"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qafactory_stage_attempt_duration_seconds",
				Help:    "Duration of a single stage attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		fetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qafactory_retrieval_fetches_total",
				Help: "Retrieval fetches by source and result",
			},
			[]string{"source", "result"},
		),
		unitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qafactory_retrieval_units_total",
				Help: "Evidence units fetched and accepted by source",
			},
			[]string{"source", "status"},
		),
		collabCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qafactory_collaborator_calls_total",
				Help: "External collaborator calls by collaborator and status",
			},
			[]string{"collaborator", "status"},
		),
		collabDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qafactory_collaborator_call_duration_seconds",
				Help:    "Duration of external collaborator calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collaborator"},
		),
		decisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qafactory_router_decisions_total",
				Help: "Router decisions by action and deciding component",
			},
			[]string{"action", "source"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qafactory_runs_total",
				Help: "Finished runs by status",
			},
			[]string{"status"},
		),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qafactory_run_duration_seconds",
			Help:    "End-to-end run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		backwardPerRun: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qafactory_run_backward_transitions",
			Help:    "Backward transitions per finished run",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		}),
		runsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "qafactory_runs_in_flight",
			Help: "Runs currently executing",
		}),
	}
}

// ObserveOutcome records one stage attempt.
func (r *Recorder) ObserveOutcome(o pipeline.Outcome) {
	if r == nil {
		return
	}
	kind := string(o.Kind)
	if kind == "" {
		kind = "none"
	}
	r.attemptsTotal.WithLabelValues(string(o.Stage), string(o.Verdict), kind).Inc()
	r.stageDuration.WithLabelValues(string(o.Stage)).Observe(float64(o.DurationMS) / 1000)
}

// ObserveFetch records one graded retrieval fetch.
func (r *Recorder) ObserveFetch(source pipeline.SourceTag, fetched, accepted int) {
	if r == nil {
		return
	}
	result := "candidates"
	if fetched == 0 {
		result = "empty"
	}
	r.fetchTotal.WithLabelValues(string(source), result).Inc()
	r.unitsTotal.WithLabelValues(string(source), "fetched").Add(float64(fetched))
	r.unitsTotal.WithLabelValues(string(source), "accepted").Add(float64(accepted))
}

// ObserveCall records one collaborator call. Safe for concurrent use.
func (r *Recorder) ObserveCall(who config.Collaborator, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.collabCalls.WithLabelValues(string(who), status).Inc()
	r.collabDuration.WithLabelValues(string(who)).Observe(d.Seconds())
}

// ObserveDecision records one router decision.
func (r *Recorder) ObserveDecision(d router.Decision) {
	if r == nil {
		return
	}
	r.decisionsTotal.WithLabelValues(string(d.Action), d.Source).Inc()
}

// RunStarted marks a run in flight.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	r.runsInFlight.Inc()
}

// RunFinished records a finished run.
func (r *Recorder) RunFinished(status string, backward int, d time.Duration) {
	if r == nil {
		return
	}
	r.runsInFlight.Dec()
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDuration.Observe(d.Seconds())
	r.backwardPerRun.Observe(float64(backward))
}
