// Package stage runs one stage of a pipeline run: a worker produces a
// candidate, an evaluator judges it, and a bounded attempt loop retries on
// failure.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/llm"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Verdict is an evaluator's judgment of one candidate.
type Verdict struct {
	Passed bool               `json:"passed"`
	Reason string             `json:"reason,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Contract is the uniform interface every stage implements. Produce must be
// safe to call repeatedly and may only write into the state via Commit.
type Contract interface {
	Stage() pipeline.StageID
	Produce(ctx context.Context, st *pipeline.PipelineState, feedback string) (any, error)
	Evaluate(ctx context.Context, st *pipeline.PipelineState, candidate any) (Verdict, error)
	Commit(st *pipeline.PipelineState, candidate any)
}

// StageResult is the single exit signal of a stage invocation: its terminal
// outcome.
type StageResult struct {
	Outcome pipeline.Outcome
}

// Passed reports whether the stage ended in a Pass.
func (r StageResult) Passed() bool { return r.Outcome.Passed() }

// Cancelled reports whether the run was cancelled during the stage.
func (r StageResult) Cancelled() bool { return r.Outcome.Kind == pipeline.KindCancelled }

// CollaboratorKind classifies a collaborator-level failure.
type CollaboratorKind string

const (
	CollabTimeout   CollaboratorKind = "timeout"
	CollabMalformed CollaboratorKind = "malformed"
	CollabEmpty     CollaboratorKind = "empty"
	CollabTransport CollaboratorKind = "transport"
)

// CollaboratorError is a failure of an external dependency as opposed to a
// quality judgment.
type CollaboratorError struct {
	Collaborator config.Collaborator
	Kind         CollaboratorKind
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Hooks observe stage execution. Every field is optional.
type Hooks struct {
	// Outcome is called after each attempt record is appended.
	Outcome func(st *pipeline.PipelineState, o pipeline.Outcome)
	// Candidate is called with each produced candidate before evaluation.
	Candidate func(st *pipeline.PipelineState, stage pipeline.StageID, invocation, attempt int, candidate any)
	// Fetch is called after each retrieval fetch is graded.
	Fetch func(source pipeline.SourceTag, fetched, accepted int)
	// Call is called after every collaborator call. Retrieval grading calls
	// it from several goroutines at once.
	Call func(who config.Collaborator, d time.Duration, err error)
}

// base holds what the controllers share.
type base struct {
	budgets  config.StageBudgets
	timeouts config.Timeouts
	hooks    Hooks
	progress io.Writer
	now      func() time.Time
}

func newBase(cfg config.RunConfig, hooks Hooks) base {
	return base{budgets: cfg.MaxRetries, timeouts: cfg.Timeouts, hooks: hooks, now: time.Now}
}

// logf prints a progress line if a progress writer is configured.
func (b *base) logf(format string, args ...interface{}) {
	if b.progress != nil {
		fmt.Fprintf(b.progress, "  → "+format+"\n", args...)
	}
}

// call runs fn under the collaborator's timeout. If the parent context is
// done the parent's error is returned unwrapped; any other failure comes
// back as a *CollaboratorError.
func (b *base) call(ctx context.Context, who config.Collaborator, fn func(ctx context.Context) error) error {
	cctx := ctx
	if d := b.timeouts.For(who); d > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	err := fn(cctx)
	if b.hooks.Call != nil {
		b.hooks.Call(who, time.Since(start), err)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return classifyCollaborator(cctx, who, err)
}

func classifyCollaborator(cctx context.Context, who config.Collaborator, err error) error {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce
	}
	kind := CollabTransport
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(cctx.Err(), context.DeadlineExceeded),
		llm.IsType(err, llm.ErrorTimeout):
		kind = CollabTimeout
	case errors.Is(err, llm.ErrMalformed):
		kind = CollabMalformed
	case llm.IsType(err, llm.ErrorEmptyResponse):
		kind = CollabEmpty
	}
	return &CollaboratorError{Collaborator: who, Kind: kind, Err: err}
}

// isCancelled reports whether err stems from the run's own context ending.
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err()))
}

// genericReason is the terminal reason when no attempt produced one.
func genericReason(s pipeline.StageID) string {
	switch s {
	case pipeline.StageQuery:
		return "query refinement did not produce an acceptable result"
	case pipeline.StageRetrieval:
		return "insufficient evidence after exhausting both sources"
	case pipeline.StageAnswer:
		return "answer synthesis did not produce an acceptable answer"
	}
	return "stage failed"
}

const cancelledReason = "run cancelled"
