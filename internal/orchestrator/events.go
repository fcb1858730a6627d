package orchestrator

import (
	"fmt"
	"time"

	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/router"
	"github.com/lucasnoah/qafactory/internal/stage"
)

// Run event names written to the event log.
const (
	EventCreated        = "created"
	EventAttempt        = "attempt"
	EventStageAdvanced  = "stage_advanced"
	EventRoutedBackward = "routed_backward"
	EventLoopBudget     = "loop_budget_exhausted"
	EventCompleted      = "completed"
	EventFailed         = "failed"
	EventCancelled      = "cancelled"
)

// hooks feeds stage activity to the attempt log, run store and metrics.
// Persistence failures are logged and never change the run.
func (o *Orchestrator) hooks() stage.Hooks {
	return stage.Hooks{
		Outcome: func(st *pipeline.PipelineState, out pipeline.Outcome) {
			o.deps.Metrics.ObserveOutcome(out)
			if o.deps.DB != nil {
				if err := o.deps.DB.LogAttempt(st.RunID(), out); err != nil {
					o.logger.Warn("log attempt", "run_id", st.RunID(), "err", err)
				}
			}
		},
		Candidate: func(st *pipeline.PipelineState, id pipeline.StageID, invocation, attempt int, candidate any) {
			if o.deps.Store == nil {
				return
			}
			if err := o.deps.Store.SaveCandidate(st.RunID(), id, invocation, attempt, candidate); err != nil {
				o.logger.Warn("save candidate", "run_id", st.RunID(), "stage", id, "attempt", attempt, "err", err)
			}
		},
		Fetch: o.deps.Metrics.ObserveFetch,
		Call:  o.deps.Metrics.ObserveCall,
	}
}

// begin records a new run in the store and event log.
func (o *Orchestrator) begin(st *pipeline.PipelineState) {
	o.deps.Metrics.RunStarted()
	if o.deps.Store != nil {
		if _, err := o.deps.Store.Create(st.RunID(), st.OriginalQuestion()); err != nil {
			o.logger.Warn("create run record", "run_id", st.RunID(), "err", err)
		}
	}
	if o.deps.DB != nil {
		if err := o.deps.DB.StartRun(st.RunID(), st.OriginalQuestion()); err != nil {
			o.logger.Warn("start run", "run_id", st.RunID(), "err", err)
		}
		if err := o.deps.DB.LogRunEvent(st.RunID(), EventCreated, "", 0, ""); err != nil {
			o.logger.Warn("log run event", "run_id", st.RunID(), "event", EventCreated, "err", err)
		}
	}
}

// saveState writes the current snapshot to the run record.
func (o *Orchestrator) saveState(st *pipeline.PipelineState, status string) {
	if o.deps.Store == nil {
		return
	}
	snap := st.Snapshot()
	err := o.deps.Store.Update(st.RunID(), func(rec *pipeline.RunRecord) {
		rec.Status = status
		rec.State = snap
	})
	if err != nil {
		o.logger.Warn("update run record", "run_id", st.RunID(), "err", err)
	}
}

// logDecision writes the routing decision taken after a stage.
func (o *Orchestrator) logDecision(st *pipeline.PipelineState, last pipeline.Outcome, d router.Decision) {
	if o.deps.DB == nil {
		return
	}
	var event, detail string
	switch {
	case d.Action == router.ActionAdvance:
		event, detail = EventStageAdvanced, fmt.Sprintf("from=%s to=%s", last.Stage, d.Next)
	case d.Action == router.ActionBackward:
		event, detail = EventRoutedBackward, fmt.Sprintf("from=%s to=%s count=%d reason=%s", last.Stage, d.Next, st.BackwardCount(), d.Reason)
	case d.Kind == pipeline.KindLoopBudget:
		event, detail = EventLoopBudget, d.Reason
	default:
		return
	}
	if err := o.deps.DB.LogRunEvent(st.RunID(), event, string(last.Stage), last.Attempt, detail); err != nil {
		o.logger.Warn("log run event", "run_id", st.RunID(), "event", event, "err", err)
	}
}

// finish records the end of a run.
func (o *Orchestrator) finish(st *pipeline.PipelineState, r *Result) {
	o.deps.Metrics.RunFinished(r.Status, r.BackwardCount, time.Duration(r.DurationMS)*time.Millisecond)
	o.logf("run %s %s", r.RunID, r.Status)

	if o.deps.Store != nil {
		snap := st.Snapshot()
		err := o.deps.Store.Update(r.RunID, func(rec *pipeline.RunRecord) {
			rec.Status = r.Status
			rec.FinalAnswer = r.FinalAnswer
			rec.FailureReason = r.FailureReason
			rec.State = snap
		})
		if err != nil {
			o.logger.Warn("finish run record", "run_id", r.RunID, "err", err)
		}
	}

	if o.deps.DB == nil {
		return
	}
	event := EventFailed
	switch r.Status {
	case pipeline.StatusSucceeded:
		event = EventCompleted
	case pipeline.StatusCancelled:
		event = EventCancelled
	}
	if err := o.deps.DB.LogRunEvent(r.RunID, event, "", 0, r.FailureReason); err != nil {
		o.logger.Warn("log run event", "run_id", r.RunID, "event", event, "err", err)
	}
	if err := o.deps.DB.FinishRun(r.RunID, r.Status, r.FailureReason, r.BackwardCount, st.EvidenceCount()); err != nil {
		o.logger.Warn("finish run", "run_id", r.RunID, "err", err)
	}
}
