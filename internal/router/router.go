// Package router decides what runs after each stage. The transition table
// is the authoritative state machine; an optional strategy may pick among
// the legal transitions, and the loop guard bounds backward transitions.
package router

import (
	"fmt"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Action is the kind of routing decision.
type Action string

const (
	ActionAdvance   Action = "advance"   // forward to a later stage
	ActionBackward  Action = "backward"  // back to an earlier stage
	ActionSucceed   Action = "succeed"   // terminate with the final answer
	ActionTerminate Action = "terminate" // terminate without an answer
)

// End is the pseudo-stage naming termination in transition targets.
const End pipeline.StageID = "end"

// Decision is the router's answer to "what next?".
type Decision struct {
	Action   Action               `json:"action"`
	Next     pipeline.StageID     `json:"next,omitempty"`
	Feedback string               `json:"feedback,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Kind     pipeline.FailureKind `json:"kind,omitempty"`
	Source   string               `json:"source"` // "table", "llm" or "guard"
}

// Terminal reports whether the decision ends the run.
func (d Decision) Terminal() bool {
	return d.Action == ActionSucceed || d.Action == ActionTerminate
}

// Backward reports whether the decision is a backward transition.
func (d Decision) Backward() bool { return d.Action == ActionBackward }

// RevisionFeedback is handed to the query worker when retrieval fails.
func RevisionFeedback(reason string) string {
	return fmt.Sprintf("Evidence retrieval failed: %s. Revise the search directive: use different or broader keywords, "+
		"drop overly specific terms, and try alternative phrasings of the key concepts.", reason)
}

// Decide is the canonical transition table. It reads only the last terminal
// outcome in history and the classifier signal in snap.
func Decide(history []pipeline.Outcome, snap pipeline.Snapshot) Decision {
	last, ok := pipeline.LastTerminal(history)
	if !ok {
		return Decision{Action: ActionAdvance, Next: pipeline.StageQuery, Source: "table"}
	}

	d := Decision{Source: "table"}
	switch {
	case last.Kind == pipeline.KindCancelled:
		d.Action, d.Kind, d.Reason = ActionTerminate, pipeline.KindCancelled, last.Reason

	case last.Stage == pipeline.StageQuery && last.Passed():
		d.Action, d.Next = ActionAdvance, pipeline.StageRetrieval
		if !snap.NeedsRetrieval {
			d.Next = pipeline.StageAnswer
		}
	case last.Stage == pipeline.StageQuery:
		d.Action, d.Kind = ActionTerminate, failureKind(last)
		d.Reason = failureReason("query refinement", last)

	case last.Stage == pipeline.StageRetrieval && last.Passed():
		d.Action, d.Next = ActionAdvance, pipeline.StageAnswer
	case last.Stage == pipeline.StageRetrieval:
		d.Action, d.Next = ActionBackward, pipeline.StageQuery
		d.Feedback = RevisionFeedback(last.Reason)
		d.Reason = failureReason("evidence retrieval", last)

	case last.Stage == pipeline.StageAnswer && last.Passed():
		d.Action = ActionSucceed
	case last.Stage == pipeline.StageAnswer:
		d.Action, d.Kind = ActionTerminate, failureKind(last)
		d.Reason = failureReason("answer synthesis", last)

	default:
		d.Action, d.Kind = ActionTerminate, pipeline.KindExhausted
		d.Reason = fmt.Sprintf("no transition for stage %q", last.Stage)
	}
	return d
}

// failureKind is the run-level kind for a terminal stage failure.
func failureKind(last pipeline.Outcome) pipeline.FailureKind {
	if last.Exhausted {
		return pipeline.KindExhausted
	}
	return last.Kind
}

func failureReason(stage string, last pipeline.Outcome) string {
	if last.Exhausted {
		return fmt.Sprintf("%s exhausted after %d attempts (last %s failure): %s", stage, last.Attempt, last.Kind, last.Reason)
	}
	return fmt.Sprintf("%s failed: %s", stage, last.Reason)
}

// Transition is one row of the table, for display.
type Transition struct {
	From    pipeline.StageID
	Verdict pipeline.Verdict
	To      []pipeline.StageID
	Note    string
}

// Table lists every transition, including the alternatives a strategy may
// choose.
func Table() []Transition {
	return []Transition{
		{pipeline.StageQuery, pipeline.VerdictPass, []pipeline.StageID{pipeline.StageRetrieval, pipeline.StageAnswer}, "answer directly when no retrieval is needed"},
		{pipeline.StageQuery, pipeline.VerdictFail, []pipeline.StageID{End}, "terminate"},
		{pipeline.StageRetrieval, pipeline.VerdictPass, []pipeline.StageID{pipeline.StageAnswer}, ""},
		{pipeline.StageRetrieval, pipeline.VerdictFail, []pipeline.StageID{pipeline.StageQuery, End}, "backward with feedback, subject to the loop guard"},
		{pipeline.StageAnswer, pipeline.VerdictPass, []pipeline.StageID{End}, "succeed"},
		{pipeline.StageAnswer, pipeline.VerdictFail, []pipeline.StageID{End}, "terminate"},
	}
}

// Allowed returns the legal targets after a terminal outcome. End means
// termination (success after a stage 3 pass).
func Allowed(last pipeline.Outcome, snap pipeline.Snapshot) []pipeline.StageID {
	if last.Kind == pipeline.KindCancelled {
		return []pipeline.StageID{End}
	}
	switch {
	case last.Stage == pipeline.StageQuery && last.Passed():
		if !snap.NeedsRetrieval {
			return []pipeline.StageID{pipeline.StageAnswer}
		}
		return []pipeline.StageID{pipeline.StageRetrieval, pipeline.StageAnswer}
	case last.Stage == pipeline.StageRetrieval && last.Passed():
		return []pipeline.StageID{pipeline.StageAnswer}
	case last.Stage == pipeline.StageRetrieval:
		return []pipeline.StageID{pipeline.StageQuery, End}
	}
	return []pipeline.StageID{End}
}

// decisionFor builds the decision for choosing target after last. The
// table decision supplies feedback and reasons where they apply.
func decisionFor(target pipeline.StageID, last pipeline.Outcome, table Decision) Decision {
	if target == End {
		if last.Stage == pipeline.StageAnswer && last.Passed() {
			return Decision{Action: ActionSucceed}
		}
		reason := table.Reason
		if reason == "" {
			reason = fmt.Sprintf("router ended the run after %s", last.Stage)
		}
		kind := table.Kind
		if kind == "" {
			kind = failureKind(last)
		}
		return Decision{Action: ActionTerminate, Reason: reason, Kind: kind}
	}
	if target.Number() < last.Stage.Number() {
		return Decision{Action: ActionBackward, Next: target, Feedback: table.Feedback, Reason: table.Reason}
	}
	return Decision{Action: ActionAdvance, Next: target}
}

func contains(ids []pipeline.StageID, id pipeline.StageID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
