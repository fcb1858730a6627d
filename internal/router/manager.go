package router

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Strategy picks the next step from the history and a state snapshot.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, history []pipeline.Outcome, snap pipeline.Snapshot) (Decision, error)
}

// TableStrategy is the canonical hard-coded router.
type TableStrategy struct{}

// Name implements Strategy.
func (TableStrategy) Name() string { return "table" }

// Decide implements Strategy.
func (TableStrategy) Decide(_ context.Context, history []pipeline.Outcome, snap pipeline.Snapshot) (Decision, error) {
	return Decide(history, snap), nil
}

// Advisor is a language-model collaborator that proposes the next stage.
// It returns a stage ID or "end".
type Advisor interface {
	Advise(ctx context.Context, snap pipeline.Snapshot, last pipeline.Outcome, allowed []pipeline.StageID) (next, reasoning string, err error)
}

// LLMStrategy asks an Advisor for the next stage. Proposals outside the
// legal transitions for the last outcome, and advisor failures, fall back to
// the table.
type LLMStrategy struct {
	Advisor Advisor
	Timeout time.Duration
}

// Name implements Strategy.
func (s *LLMStrategy) Name() string { return "llm" }

// Decide implements Strategy.
func (s *LLMStrategy) Decide(ctx context.Context, history []pipeline.Outcome, snap pipeline.Snapshot) (Decision, error) {
	table := Decide(history, snap)
	last, ok := pipeline.LastTerminal(history)
	if !ok {
		return table, nil
	}
	allowed := Allowed(last, snap)
	if len(allowed) == 1 {
		return table, nil
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	next, reasoning, err := s.Advisor.Advise(ctx, snap, last, allowed)
	if err != nil {
		return table, fmt.Errorf("router advisor: %w", err)
	}
	target := pipeline.StageID(next)
	if !contains(allowed, target) {
		return table, fmt.Errorf("router advisor proposed illegal transition %s -> %q", last.Stage, next)
	}

	d := decisionFor(target, last, table)
	d.Source = "llm"
	if d.Action == ActionTerminate && reasoning != "" && table.Action != ActionTerminate {
		d.Reason = reasoning
	}
	return d, nil
}

// LoopGuard bounds backward transitions per run.
type LoopGuard struct {
	Max int
}

// Allow reports whether another backward transition is within budget given
// the backward transitions made so far.
func (g LoopGuard) Allow(count int) bool { return count < g.Max }

// Record counts a backward transition on the state and returns the new
// count.
func (g LoopGuard) Record(st *pipeline.PipelineState) int { return st.RecordBackward() }

// Manager is the top-level router. Every decision passes the loop guard.
type Manager struct {
	strategy Strategy
	guard    LoopGuard
	progress io.Writer
	observe  func(Decision)
}

// NewManager creates a manager. A nil strategy uses the table.
func NewManager(strategy Strategy, maxGlobalLoops int) *Manager {
	if strategy == nil {
		strategy = TableStrategy{}
	}
	return &Manager{strategy: strategy, guard: LoopGuard{Max: maxGlobalLoops}}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (m *Manager) SetProgress(w io.Writer) { m.progress = w }

// OnDecision registers a callback for every final decision.
func (m *Manager) OnDecision(fn func(Decision)) { m.observe = fn }

func (m *Manager) logf(format string, args ...interface{}) {
	if m.progress != nil {
		fmt.Fprintf(m.progress, "  → "+format+"\n", args...)
	}
}

// Next decides the step after the latest terminal outcome on st. A
// backward decision is recorded on st before returning; one that would
// exceed the loop budget is replaced by termination.
func (m *Manager) Next(ctx context.Context, st *pipeline.PipelineState) Decision {
	history := st.History()
	d, err := m.strategy.Decide(ctx, history, st.Snapshot())
	if err != nil {
		m.logf("router %s fell back to table: %v", m.strategy.Name(), err)
	}

	if d.Backward() {
		if !m.guard.Allow(st.BackwardCount()) {
			d = Decision{
				Action: ActionTerminate,
				Kind:   pipeline.KindLoopBudget,
				Reason: fmt.Sprintf("loop budget exhausted after %d backward transitions: %s", st.BackwardCount(), d.Reason),
				Source: "guard",
			}
		} else {
			n := m.guard.Record(st)
			m.logf("routing back to %s (backward transition %d/%d)", d.Next, n, m.guard.Max)
		}
	}

	switch d.Action {
	case ActionAdvance:
		m.logf("advancing to %s", d.Next)
	case ActionSucceed:
		m.logf("run succeeded")
	case ActionTerminate:
		m.logf("terminating: %s", d.Reason)
	}
	if m.observe != nil {
		m.observe(d)
	}
	return d
}
