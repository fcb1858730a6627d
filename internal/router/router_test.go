package router

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

func terminal(stage pipeline.StageID, v pipeline.Verdict, kind pipeline.FailureKind) pipeline.Outcome {
	return pipeline.Outcome{Stage: stage, Invocation: 1, Attempt: 1, Verdict: v, Kind: kind, Terminal: true, Reason: "r"}
}

// exhausted is a terminal failure that used up the stage budget.
func exhausted(stage pipeline.StageID) pipeline.Outcome {
	o := terminal(stage, pipeline.VerdictFail, pipeline.KindQuality)
	o.Exhausted = true
	return o
}

func snap(needsRetrieval bool) pipeline.Snapshot {
	return pipeline.Snapshot{NeedsRetrieval: needsRetrieval}
}

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name     string
		last     pipeline.Outcome
		retrieve bool
		action   Action
		next     pipeline.StageID
	}{
		{"query pass", terminal(pipeline.StageQuery, pipeline.VerdictPass, ""), true, ActionAdvance, pipeline.StageRetrieval},
		{"query pass no retrieval", terminal(pipeline.StageQuery, pipeline.VerdictPass, ""), false, ActionAdvance, pipeline.StageAnswer},
		{"query fail", exhausted(pipeline.StageQuery), true, ActionTerminate, ""},
		{"retrieval pass", terminal(pipeline.StageRetrieval, pipeline.VerdictPass, ""), true, ActionAdvance, pipeline.StageAnswer},
		{"retrieval fail", exhausted(pipeline.StageRetrieval), true, ActionBackward, pipeline.StageQuery},
		{"answer pass", terminal(pipeline.StageAnswer, pipeline.VerdictPass, ""), true, ActionSucceed, ""},
		{"answer fail", exhausted(pipeline.StageAnswer), true, ActionTerminate, ""},
		{"cancelled", terminal(pipeline.StageRetrieval, pipeline.VerdictFail, pipeline.KindCancelled), true, ActionTerminate, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide([]pipeline.Outcome{tt.last}, snap(tt.retrieve))
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.next, d.Next)
			assert.Equal(t, "table", d.Source)
		})
	}
}

func TestDecide_EmptyHistoryStartsAtQuery(t *testing.T) {
	d := Decide(nil, snap(true))
	assert.Equal(t, ActionAdvance, d.Action)
	assert.Equal(t, pipeline.StageQuery, d.Next)
}

func TestDecide_IgnoresNonTerminalOutcomes(t *testing.T) {
	history := []pipeline.Outcome{
		terminal(pipeline.StageQuery, pipeline.VerdictPass, ""),
		{Stage: pipeline.StageRetrieval, Attempt: 1, Verdict: pipeline.VerdictFail, Kind: pipeline.KindQuality},
	}
	d := Decide(history, snap(true))
	assert.Equal(t, pipeline.StageRetrieval, d.Next)
}

func TestDecide_RetrievalFailCarriesFeedback(t *testing.T) {
	last := exhausted(pipeline.StageRetrieval)
	last.Reason = "no candidates from secondary source"
	d := Decide([]pipeline.Outcome{last}, snap(true))
	assert.Contains(t, d.Feedback, "Revise the search directive")
	assert.Contains(t, d.Feedback, "no candidates from secondary source")
}

func TestDecide_ExhaustedFailureKind(t *testing.T) {
	last := exhausted(pipeline.StageAnswer)
	last.Kind, last.Attempt, last.Reason = pipeline.KindCollaborator, 3, "answer worker timeout"
	d := Decide([]pipeline.Outcome{last}, snap(true))
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, pipeline.KindExhausted, d.Kind)
	assert.Contains(t, d.Reason, "exhausted after 3 attempts")
	assert.Contains(t, d.Reason, "collaborator")
	assert.Contains(t, d.Reason, "answer worker timeout")

	last.Exhausted = false
	d = Decide([]pipeline.Outcome{last}, snap(true))
	assert.Equal(t, pipeline.KindCollaborator, d.Kind)
}

// Every table decision must be one of the legal transitions.
func TestDecide_AlwaysWithinAllowed(t *testing.T) {
	for _, stage := range pipeline.Stages {
		for _, v := range []pipeline.Verdict{pipeline.VerdictPass, pipeline.VerdictFail} {
			for _, retrieve := range []bool{true, false} {
				last := terminal(stage, v, "")
				if v == pipeline.VerdictFail {
					last.Kind, last.Exhausted = pipeline.KindQuality, true
				}
				d := Decide([]pipeline.Outcome{last}, snap(retrieve))
				target := d.Next
				if d.Terminal() {
					target = End
				}
				assert.Contains(t, Allowed(last, snap(retrieve)), target, "%s %s retrieve=%v", stage, v, retrieve)
			}
		}
	}
}

func TestTableCoversEveryStageAndVerdict(t *testing.T) {
	seen := map[string]bool{}
	for _, tr := range Table() {
		seen[string(tr.From)+"/"+string(tr.Verdict)] = true
		assert.NotEmpty(t, tr.To)
	}
	assert.Len(t, seen, len(pipeline.Stages)*2)
}

func TestLoopGuard(t *testing.T) {
	g := LoopGuard{Max: 2}
	st := pipeline.NewState("r", "q")
	assert.True(t, g.Allow(st.BackwardCount()))
	assert.Equal(t, 1, g.Record(st))
	assert.True(t, g.Allow(st.BackwardCount()))
	assert.Equal(t, 2, g.Record(st))
	assert.False(t, g.Allow(st.BackwardCount()))

	assert.False(t, LoopGuard{Max: 0}.Allow(0))
}

func failRetrieval(st *pipeline.PipelineState) {
	st.AppendOutcome(exhausted(pipeline.StageRetrieval))
}

func TestManager_LoopBudgetOverridesBackward(t *testing.T) {
	m := NewManager(nil, 2)
	var buf bytes.Buffer
	m.SetProgress(&buf)
	st := pipeline.NewState("r", "q")

	for i := 1; i <= 2; i++ {
		failRetrieval(st)
		d := m.Next(context.Background(), st)
		require.Equal(t, ActionBackward, d.Action, "redirect %d", i)
		assert.Equal(t, pipeline.StageQuery, d.Next)
		assert.Equal(t, i, st.BackwardCount())
	}

	failRetrieval(st)
	d := m.Next(context.Background(), st)
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, pipeline.KindLoopBudget, d.Kind)
	assert.Contains(t, d.Reason, "loop budget")
	assert.Equal(t, 2, st.BackwardCount(), "count must not exceed the ceiling")
	assert.Contains(t, buf.String(), "backward transition 2/2")
}

func TestManager_ZeroLoopBudget(t *testing.T) {
	m := NewManager(nil, 0)
	st := pipeline.NewState("r", "q")
	failRetrieval(st)
	d := m.Next(context.Background(), st)
	assert.Equal(t, pipeline.KindLoopBudget, d.Kind)
	assert.Equal(t, 0, st.BackwardCount())
}

func TestManager_OnDecision(t *testing.T) {
	m := NewManager(TableStrategy{}, 2)
	var got []Decision
	m.OnDecision(func(d Decision) { got = append(got, d) })
	st := pipeline.NewState("r", "q")
	st.AppendOutcome(terminal(pipeline.StageAnswer, pipeline.VerdictPass, ""))
	m.Next(context.Background(), st)
	require.Len(t, got, 1)
	assert.Equal(t, ActionSucceed, got[0].Action)
}

// --- Mock Advisor ---

type mockAdvisor struct {
	next    string
	reason  string
	err     error
	calls   int
	allowed []pipeline.StageID
}

func (m *mockAdvisor) Advise(_ context.Context, _ pipeline.Snapshot, _ pipeline.Outcome, allowed []pipeline.StageID) (string, string, error) {
	m.calls++
	m.allowed = allowed
	return m.next, m.reason, m.err
}

func TestLLMStrategy_HonoursLegalChoice(t *testing.T) {
	adv := &mockAdvisor{next: "answer"}
	s := &LLMStrategy{Advisor: adv}
	history := []pipeline.Outcome{terminal(pipeline.StageQuery, pipeline.VerdictPass, "")}

	d, err := s.Decide(context.Background(), history, snap(true))
	require.NoError(t, err)
	assert.Equal(t, ActionAdvance, d.Action)
	assert.Equal(t, pipeline.StageAnswer, d.Next)
	assert.Equal(t, "llm", d.Source)
	assert.ElementsMatch(t, []pipeline.StageID{pipeline.StageRetrieval, pipeline.StageAnswer}, adv.allowed)
}

func TestLLMStrategy_IllegalChoiceFallsBack(t *testing.T) {
	s := &LLMStrategy{Advisor: &mockAdvisor{next: "query"}}
	history := []pipeline.Outcome{terminal(pipeline.StageQuery, pipeline.VerdictPass, "")}

	d, err := s.Decide(context.Background(), history, snap(true))
	assert.Error(t, err)
	assert.Equal(t, pipeline.StageRetrieval, d.Next)
	assert.Equal(t, "table", d.Source)
}

func TestLLMStrategy_AdvisorErrorFallsBack(t *testing.T) {
	s := &LLMStrategy{Advisor: &mockAdvisor{err: errors.New("timeout")}}
	history := []pipeline.Outcome{exhausted(pipeline.StageRetrieval)}

	d, err := s.Decide(context.Background(), history, snap(true))
	assert.Error(t, err)
	assert.Equal(t, ActionBackward, d.Action)
}

func TestLLMStrategy_SingleOptionSkipsAdvisor(t *testing.T) {
	adv := &mockAdvisor{next: "end"}
	s := &LLMStrategy{Advisor: adv}
	history := []pipeline.Outcome{terminal(pipeline.StageAnswer, pipeline.VerdictPass, "")}

	d, err := s.Decide(context.Background(), history, snap(true))
	require.NoError(t, err)
	assert.Equal(t, ActionSucceed, d.Action)
	assert.Zero(t, adv.calls)
}

func TestLLMStrategy_GiveUpOnRetrievalFailure(t *testing.T) {
	s := &LLMStrategy{Advisor: &mockAdvisor{next: "end", reason: "the corpus does not cover this topic"}}
	history := []pipeline.Outcome{exhausted(pipeline.StageRetrieval)}

	d, err := s.Decide(context.Background(), history, snap(true))
	require.NoError(t, err)
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, "the corpus does not cover this topic", d.Reason)
}

func TestManager_GuardAppliesAfterLLMStrategy(t *testing.T) {
	m := NewManager(&LLMStrategy{Advisor: &mockAdvisor{next: "query"}}, 1)
	st := pipeline.NewState("r", "q")

	failRetrieval(st)
	d := m.Next(context.Background(), st)
	assert.Equal(t, ActionBackward, d.Action)
	assert.Equal(t, "llm", d.Source)

	failRetrieval(st)
	d = m.Next(context.Background(), st)
	assert.Equal(t, pipeline.KindLoopBudget, d.Kind)
	assert.Equal(t, "guard", d.Source)
	assert.Equal(t, 1, st.BackwardCount())
}

func TestManager_NoRetrievalNeverVisitsStage2(t *testing.T) {
	m := NewManager(nil, 2)
	st := pipeline.NewState("r", "q")
	st.SetNeedsRetrieval(false)
	st.AppendOutcome(terminal(pipeline.StageQuery, pipeline.VerdictPass, ""))
	d := m.Next(context.Background(), st)
	assert.Equal(t, pipeline.StageAnswer, d.Next)
}
