package stage

import (
	"context"
	"fmt"
	"io"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Sequencer is the single entry point for running any stage. It enters the
// stage on the state (resetting its retry counter) and dispatches to the
// stage's controller.
type Sequencer struct {
	retry     *RetryController
	retrieval *RetrievalController
	query     Contract
	answer    Contract
	progress  io.Writer
}

// NewSequencer creates a sequencer over the three stages.
func NewSequencer(retry *RetryController, retrieval *RetrievalController, query, answer Contract) *Sequencer {
	return &Sequencer{retry: retry, retrieval: retrieval, query: query, answer: answer}
}

// SetProgress sets a writer for live progress output on the sequencer and
// both controllers.
func (s *Sequencer) SetProgress(w io.Writer) {
	s.progress = w
	s.retry.SetProgress(w)
	s.retrieval.SetProgress(w)
}

func (s *Sequencer) logf(format string, args ...interface{}) {
	if s.progress != nil {
		fmt.Fprintf(s.progress, "  → "+format+"\n", args...)
	}
}

// Run executes one invocation of a stage and returns its terminal outcome.
func (s *Sequencer) Run(ctx context.Context, st *pipeline.PipelineState, id pipeline.StageID) StageResult {
	invocation := st.EnterStage(id)
	s.logf("stage %d/%d %s (invocation %d)", id.Number(), len(pipeline.Stages), id, invocation)

	var res StageResult
	switch id {
	case pipeline.StageQuery:
		res = s.retry.Run(ctx, st, s.query)
	case pipeline.StageRetrieval:
		res = s.retrieval.Run(ctx, st)
	case pipeline.StageAnswer:
		res = s.retry.Run(ctx, st, s.answer)
	default:
		o := pipeline.Outcome{
			Stage: id, Invocation: invocation, Attempt: 1,
			Verdict: pipeline.VerdictFail, Kind: pipeline.KindExhausted, Terminal: true,
			Reason: fmt.Sprintf("unknown stage %q", id),
		}
		st.AppendOutcome(o)
		return StageResult{Outcome: o}
	}

	if res.Passed() {
		s.logf("stage %s passed", id)
	} else {
		s.logf("stage %s %s: %s", id, res.Outcome.Kind, res.Outcome.Reason)
	}
	return res
}
