package stage

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Source fetches candidate evidence for a directive.
type Source interface {
	Name() string
	Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error)
}

// UnitGrade is the per-unit judgment of the retrieval evaluator.
type UnitGrade struct {
	Relevance   float64 `json:"relevance"`
	Specificity float64 `json:"specificity"`
	Reason      string  `json:"reason,omitempty"`
}

// UnitEvaluator grades one evidence unit against the refined question.
type UnitEvaluator interface {
	EvaluateUnit(ctx context.Context, st *pipeline.PipelineState, unit pipeline.EvidenceUnit) (UnitGrade, error)
}

// RetrievalController gathers evidence until min_accepted units have been
// accepted. It fetches from the primary source for the first
// primary_attempts attempts and from the secondary source afterwards; both
// share the retrieval stage budget. Units are graded independently so
// acceptance accumulates across fetches.
type RetrievalController struct {
	base
	primary     Source
	secondary   Source
	evaluator   UnitEvaluator
	minAccepted int
	primaryN    int
	fetch       config.FetchCounts
	thresholds  config.Thresholds
	concurrency int
}

// NewRetrievalController creates a retrieval controller.
func NewRetrievalController(cfg config.RunConfig, primary, secondary Source, evaluator UnitEvaluator, hooks Hooks) *RetrievalController {
	return &RetrievalController{
		base:        newBase(cfg, hooks),
		primary:     primary,
		secondary:   secondary,
		evaluator:   evaluator,
		minAccepted: cfg.MinAcceptedEvidence,
		primaryN:    cfg.PrimaryAttempts,
		fetch:       cfg.Fetch,
		thresholds:  cfg.Thresholds,
		concurrency: cfg.EvalConcurrency,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (rc *RetrievalController) SetProgress(w io.Writer) { rc.progress = w }

// SetClock overrides the outcome timestamp source (for testing).
func (rc *RetrievalController) SetClock(now func() time.Time) { rc.now = now }

// Accepts reports whether a grade clears both thresholds.
func (rc *RetrievalController) Accepts(g UnitGrade) bool {
	return g.Relevance >= rc.thresholds.Relevance && g.Specificity >= rc.thresholds.Specificity
}

// Run executes the escalation loop. The stage must already have been
// entered on st.
func (rc *RetrievalController) Run(ctx context.Context, st *pipeline.PipelineState) StageResult {
	id := pipeline.StageRetrieval
	invocation := st.Invocation(id)
	max := rc.budgets.For(id)
	lastReason := ""

	directive := st.SearchDirective()
	if directive == "" {
		directive = st.RefinedQuestion()
	}
	if directive == "" {
		directive = st.OriginalQuestion()
	}

	for attempt := 1; ; attempt++ {
		start := rc.now()
		tag, src, who, count := rc.sourceFor(attempt)
		outcome := pipeline.Outcome{Stage: id, Invocation: invocation, Attempt: attempt, Source: tag}
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
		if attempt == rc.primaryN+1 {
			rc.logf("primary source exhausted, escalating to %s", src.Name())
		}
		rc.logf("retrieval attempt %d: fetching %d from %s", attempt, count, src.Name())

		var units []pipeline.EvidenceUnit
		err := rc.call(ctx, who, func(cctx context.Context) error {
			var err error
			units, err = src.Fetch(cctx, directive, count)
			return err
		})
		if isCancelled(ctx, err) {
			return finish(cancelledOutcome(outcome))
		}

		switch {
		case err != nil:
			outcome.Kind = pipeline.KindCollaborator
			outcome.Reason = err.Error()
		case len(units) == 0:
			outcome.Kind = pipeline.KindNoCandidates
			outcome.Reason = fmt.Sprintf("no candidates from %s source", tag)
			if rc.hooks.Fetch != nil {
				rc.hooks.Fetch(tag, 0, 0)
			}
		default:
			accepted, rejectReason, evalErrs, cancelled := rc.grade(ctx, st, units, tag)
			if cancelled {
				return finish(cancelledOutcome(outcome))
			}
			added := st.AppendEvidence(accepted...)
			outcome.Accepted = added
			if rc.hooks.Fetch != nil {
				rc.hooks.Fetch(tag, len(units), added)
			}
			if rc.hooks.Candidate != nil {
				rc.hooks.Candidate(st, id, invocation, attempt, units)
			}
			rc.logf("accepted %d of %d units (%d/%d total)", added, len(units), st.EvidenceCount(), rc.minAccepted)

			if st.EvidenceCount() >= rc.minAccepted {
				outcome.Verdict = pipeline.VerdictPass
				outcome.Terminal = true
				outcome.Reason = fmt.Sprintf("accepted %d evidence units", st.EvidenceCount())
				return finish(outcome)
			}

			if evalErrs > 0 && evalErrs == len(units) {
				outcome.Kind = pipeline.KindCollaborator
				outcome.Reason = fmt.Sprintf("evaluator failed on all %d units: %s", len(units), rejectReason)
			} else {
				outcome.Kind = pipeline.KindQuality
				outcome.Reason = fmt.Sprintf("accepted %d of %d units, %d of %d required",
					added, len(units), st.EvidenceCount(), rc.minAccepted)
				if rejectReason != "" {
					outcome.Reason += ": " + rejectReason
				}
			}
		}

		outcome.Verdict = pipeline.VerdictFail
		if outcome.Reason != "" {
			lastReason = outcome.Reason
		}
		if st.RetryCount(id) >= max {
			outcome.Terminal = true
			outcome.Exhausted = true
			outcome.Reason = lastReason
			if outcome.Reason == "" {
				outcome.Reason = genericReason(id)
			}
			rc.logf("retrieval failed after %d attempts: %s", attempt, outcome.Reason)
			return finish(outcome)
		}
		st.IncrementRetry(id)
		rc.logf("retrieval attempt %d failed (%s): %s", attempt, outcome.Kind, outcome.Reason)
		finish(outcome)
	}
}

func (rc *RetrievalController) sourceFor(attempt int) (pipeline.SourceTag, Source, config.Collaborator, int) {
	if attempt <= rc.primaryN {
		return pipeline.SourcePrimary, rc.primary, config.CollabPrimary, rc.fetch.Primary
	}
	return pipeline.SourceSecondary, rc.secondary, config.CollabSecondary, rc.fetch.Secondary
}

// grade evaluates the units not already accepted, in parallel, and returns
// the accepted ones in fetch order tagged with the source. An evaluator
// failure rejects only its unit.
func (rc *RetrievalController) grade(ctx context.Context, st *pipeline.PipelineState, units []pipeline.EvidenceUnit, tag pipeline.SourceTag) (accepted []pipeline.EvidenceUnit, reason string, evalErrs int, cancelled bool) {
	seen := make(map[string]bool, len(units))
	fresh := make([]pipeline.EvidenceUnit, 0, len(units))
	for _, u := range units {
		u.Source = tag
		k := u.Key()
		if seen[k] || st.HasEvidence(u) {
			continue
		}
		seen[k] = true
		fresh = append(fresh, u)
	}

	grades := make([]UnitGrade, len(fresh))
	errs := make([]error, len(fresh))

	g := new(errgroup.Group)
	if rc.concurrency > 0 {
		g.SetLimit(rc.concurrency)
	}
	for i := range fresh {
		g.Go(func() error {
			errs[i] = rc.call(ctx, config.CollabEvaluator, func(cctx context.Context) error {
				var err error
				grades[i], err = rc.evaluator.EvaluateUnit(cctx, st, fresh[i])
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, "", 0, true
	}

	for i, u := range fresh {
		if errs[i] != nil {
			evalErrs++
			reason = errs[i].Error()
			continue
		}
		if rc.Accepts(grades[i]) {
			accepted = append(accepted, u)
			continue
		}
		if grades[i].Reason != "" {
			reason = grades[i].Reason
		} else {
			reason = fmt.Sprintf("unit scored relevance %.2f, specificity %.2f", grades[i].Relevance, grades[i].Specificity)
		}
	}
	if len(fresh) == 0 {
		reason = "all fetched units were already accepted"
	}
	return accepted, reason, evalErrs, false
}
