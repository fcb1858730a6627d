package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/router"
)

func TestRecorder_Outcomes(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.ObserveOutcome(pipeline.Outcome{Stage: pipeline.StageAnswer, Verdict: pipeline.VerdictFail, Kind: pipeline.KindCollaborator, DurationMS: 1500})
	r.ObserveOutcome(pipeline.Outcome{Stage: pipeline.StageAnswer, Verdict: pipeline.VerdictPass, DurationMS: 200})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.attemptsTotal.WithLabelValues("answer", "fail", "collaborator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attemptsTotal.WithLabelValues("answer", "pass", "none")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))
}

func TestRecorder_Fetch(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.ObserveFetch(pipeline.SourcePrimary, 5, 2)
	r.ObserveFetch(pipeline.SourcePrimary, 0, 0)
	r.ObserveFetch(pipeline.SourceSecondary, 3, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchTotal.WithLabelValues("primary", "empty")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.unitsTotal.WithLabelValues("primary", "fetched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.unitsTotal.WithLabelValues("primary", "accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.unitsTotal.WithLabelValues("secondary", "accepted")))
}

func TestRecorder_CallsAndDecisions(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.ObserveCall(config.CollabWorker, time.Second, nil)
	r.ObserveCall(config.CollabWorker, time.Second, errors.New("timeout"))
	r.ObserveDecision(router.Decision{Action: router.ActionBackward, Source: "table"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.collabCalls.WithLabelValues("worker", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisionsTotal.WithLabelValues("backward", "table")))
}

func TestRecorder_Runs(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RunStarted()
	r.RunStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsInFlight))

	r.RunFinished(pipeline.StatusSucceeded, 1, 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("succeeded")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveOutcome(pipeline.Outcome{})
		r.ObserveFetch(pipeline.SourcePrimary, 1, 1)
		r.ObserveCall(config.CollabWorker, 0, nil)
		r.ObserveDecision(router.Decision{})
		r.RunStarted()
		r.RunFinished("failed", 0, 0)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
