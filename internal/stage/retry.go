package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// RetryController wraps a Contract with a bounded attempt loop. A failed
// attempt increments the stage counter; once the counter is at the stage's
// ceiling the next failure is terminal, so a stage invocation makes at most
// max_retries+1 attempts.
type RetryController struct {
	base
}

// NewRetryController creates a retry controller.
func NewRetryController(cfg config.RunConfig, hooks Hooks) *RetryController {
	return &RetryController{base: newBase(cfg, hooks)}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (rc *RetryController) SetProgress(w io.Writer) { rc.progress = w }

// SetClock overrides the outcome timestamp source (for testing).
func (rc *RetryController) SetClock(now func() time.Time) { rc.now = now }

// Run executes attempts until one passes or the budget is spent. The stage
// must already have been entered on st.
func (rc *RetryController) Run(ctx context.Context, st *pipeline.PipelineState, c Contract) StageResult {
	id := c.Stage()
	invocation := st.Invocation(id)
	max := rc.budgets.For(id)
	lastReason := ""

	for attempt := 1; ; attempt++ {
		start := rc.now()
		outcome := pipeline.Outcome{Stage: id, Invocation: invocation, Attempt: attempt}
		finish := func(o pipeline.Outcome) StageResult {
			o.DurationMS = rc.now().Sub(start).Milliseconds()
			o.Timestamp = start
			st.AppendOutcome(o)
			if rc.hooks.Outcome != nil {
				rc.hooks.Outcome(st, o)
			}
			return StageResult{Outcome: o}
		}

		if ctx.Err() != nil {
			return finish(cancelledOutcome(outcome))
		}

		feedback := st.TakeFeedback()
		if feedback != "" {
			rc.logf("%s attempt %d (feedback: %s)", id, attempt, feedback)
		} else {
			rc.logf("%s attempt %d", id, attempt)
		}

		var candidate any
		var verdict Verdict
		err := rc.call(ctx, config.CollabWorker, func(cctx context.Context) error {
			var err error
			candidate, err = c.Produce(cctx, st, feedback)
			return err
		})
		if err == nil {
			if rc.hooks.Candidate != nil {
				rc.hooks.Candidate(st, id, invocation, attempt, candidate)
			}
			err = rc.call(ctx, config.CollabEvaluator, func(cctx context.Context) error {
				var err error
				verdict, err = c.Evaluate(cctx, st, candidate)
				return err
			})
		}

		if isCancelled(ctx, err) {
			return finish(cancelledOutcome(outcome))
		}

		if err == nil && verdict.Passed {
			c.Commit(st, candidate)
			outcome.Verdict = pipeline.VerdictPass
			outcome.Reason = verdict.Reason
			outcome.Terminal = true
			rc.logf("%s passed on attempt %d", id, attempt)
			return finish(outcome)
		}

		outcome.Verdict = pipeline.VerdictFail
		if err != nil {
			outcome.Kind = pipeline.KindCollaborator
			outcome.Reason = err.Error()
			var ce *CollaboratorError
			if !errors.As(err, &ce) {
				outcome.Reason = fmt.Sprintf("collaborator error: %v", err)
			}
			// The worker sees the same inputs on the retry.
			st.SetFeedback(feedback)
		} else {
			outcome.Kind = pipeline.KindQuality
			outcome.Reason = verdict.Reason
			st.SetFeedback(verdict.Reason)
		}
		if outcome.Reason != "" {
			lastReason = outcome.Reason
		}

		if st.RetryCount(id) >= max {
			st.TakeFeedback()
			outcome.Terminal = true
			outcome.Exhausted = true
			outcome.Reason = lastReason
			if outcome.Reason == "" {
				outcome.Reason = genericReason(id)
			}
			rc.logf("%s failed after %d attempts: %s", id, attempt, outcome.Reason)
			return finish(outcome)
		}
		st.IncrementRetry(id)
		rc.logf("%s attempt %d failed (%s): %s", id, attempt, outcome.Kind, outcome.Reason)
		finish(outcome)
	}
}

func cancelledOutcome(o pipeline.Outcome) pipeline.Outcome {
	o.Verdict = pipeline.VerdictFail
	o.Kind = pipeline.KindCancelled
	o.Reason = cancelledReason
	o.Terminal = true
	return o
}
