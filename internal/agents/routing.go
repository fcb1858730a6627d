package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
)

// Classifier decides upstream whether a question needs retrieval at all.
type Classifier struct {
	caller
}

type classifierReply struct {
	NeedsRetrieval *bool  `json:"needs_retrieval"`
	Reason         string `json:"reason"`
}

// NeedsRetrieval asks the model whether question needs documents. Callers
// treat an error as "retrieve".
func (c *Classifier) NeedsRetrieval(ctx context.Context, question string) (bool, error) {
	var r classifierReply
	if err := c.completeJSON(ctx, prompt.Classifier, prompt.Vars{"question": question}, &r); err != nil {
		return true, err
	}
	if r.NeedsRetrieval == nil {
		return true, missing(prompt.Classifier, "needs_retrieval")
	}
	return *r.NeedsRetrieval, nil
}

// RouterAdvisor proposes the next stage from a state snapshot. It
// implements router.Advisor.
type RouterAdvisor struct {
	caller
}

type routeReply struct {
	Next      string `json:"next_stage"`
	Reasoning string `json:"reasoning"`
}

// maxSnapshotEvidence bounds the evidence text sent to the advisor.
const maxSnapshotEvidence = 300

// Advise implements router.Advisor.
func (a *RouterAdvisor) Advise(ctx context.Context, snap pipeline.Snapshot, last pipeline.Outcome, allowed []pipeline.StageID) (string, string, error) {
	state, err := json.MarshalIndent(trimSnapshot(snap), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode state: %w", err)
	}
	names := make([]string, len(allowed))
	for i, id := range allowed {
		names[i] = fmt.Sprintf("%q", id)
	}
	vars := prompt.Vars{
		"state_json":   string(state),
		"last_stage":   string(last.Stage),
		"last_verdict": string(last.Verdict),
		"last_reason":  last.Reason,
		"allowed":      strings.Join(names, ", "),
	}

	var r routeReply
	if err := a.completeJSON(ctx, prompt.Router, vars, &r); err != nil {
		return "", "", err
	}
	if r.Next == "" {
		return "", "", missing(prompt.Router, "next_stage")
	}
	return strings.ToLower(strings.TrimSpace(r.Next)), r.Reasoning, nil
}

// trimSnapshot cuts evidence content so the advisor prompt stays small.
func trimSnapshot(s pipeline.Snapshot) pipeline.Snapshot {
	s.Evidence = append([]pipeline.EvidenceUnit(nil), s.Evidence...)
	for i := range s.Evidence {
		if r := []rune(s.Evidence[i].Content); len(r) > maxSnapshotEvidence {
			s.Evidence[i].Content = string(r[:maxSnapshotEvidence]) + "..."
		}
	}
	return s
}
