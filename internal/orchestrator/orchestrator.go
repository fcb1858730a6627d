package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/db"
	"github.com/lucasnoah/qafactory/internal/metrics"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/router"
	"github.com/lucasnoah/qafactory/internal/stage"
)

// Classifier decides upstream whether a question needs retrieval.
type Classifier interface {
	NeedsRetrieval(ctx context.Context, question string) (bool, error)
}

// Deps are the collaborators and sinks a run uses. Everything below the
// collaborator block is optional.
type Deps struct {
	QueryWorker        stage.QueryWorker
	QueryEvaluator     stage.QueryEvaluator
	Primary            stage.Source
	Secondary          stage.Source
	RetrievalEvaluator stage.UnitEvaluator
	AnswerWorker       stage.AnswerWorker
	AnswerEvaluator    stage.AnswerEvaluator

	Classifier Classifier     // consulted when run.classifier is set
	Advisor    router.Advisor // required when run.router is "llm"

	Store   *pipeline.Store
	DB      *db.DB
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	NewID   func() string
}

// Orchestrator runs questions through the stage pipeline. It holds no
// per-run state, so one instance may serve concurrent runs.
type Orchestrator struct {
	cfg      config.RunConfig
	deps     Deps
	seq      *stage.Sequencer
	manager  *router.Manager
	logger   *slog.Logger
	progress io.Writer
	now      func() time.Time
}

// New validates cfg and wires the stage controllers and router. An invalid
// configuration is rejected before any stage work.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Check(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := deps.check(cfg.Run); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.NewString() }
	}

	o := &Orchestrator{cfg: cfg.Run, deps: deps, logger: deps.Logger, now: time.Now}

	hooks := o.hooks()
	retry := stage.NewRetryController(cfg.Run, hooks)
	retrieval := stage.NewRetrievalController(cfg.Run, deps.Primary, deps.Secondary, deps.RetrievalEvaluator, hooks)
	o.seq = stage.NewSequencer(retry, retrieval,
		stage.QueryContract{Worker: deps.QueryWorker, Evaluator: deps.QueryEvaluator},
		stage.AnswerContract{Worker: deps.AnswerWorker, Evaluator: deps.AnswerEvaluator},
	)

	var strategy router.Strategy = router.TableStrategy{}
	if cfg.Run.Router == "llm" {
		strategy = &router.LLMStrategy{Advisor: deps.Advisor, Timeout: cfg.Run.Timeouts.For(config.CollabRouter)}
	}
	o.manager = router.NewManager(strategy, cfg.Run.MaxGlobalLoops)
	o.manager.OnDecision(deps.Metrics.ObserveDecision)
	return o, nil
}

func (d Deps) check(run config.RunConfig) error {
	var missing []string
	add := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	add(d.QueryWorker != nil, "query worker")
	add(d.QueryEvaluator != nil, "query evaluator")
	add(d.Primary != nil, "primary source")
	add(d.Secondary != nil, "secondary source")
	add(d.RetrievalEvaluator != nil, "retrieval evaluator")
	add(d.AnswerWorker != nil, "answer worker")
	add(d.AnswerEvaluator != nil, "answer evaluator")
	add(run.Router != "llm" || d.Advisor != nil, "router advisor")
	if len(missing) > 0 {
		return fmt.Errorf("missing collaborators: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
	o.seq.SetProgress(w)
	o.manager.SetProgress(w)
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// RunOptions tune a single run.
type RunOptions struct {
	// Partial surfaces the accepted evidence of a cancelled or failed run.
	// run.partial_output sets it for every run.
	Partial bool
}

// Result is the user-visible end of a run: exactly one of FinalAnswer and
// FailureReason is set.
type Result struct {
	RunID          string                  `json:"run_id"`
	Status         string                  `json:"status"`
	FinalAnswer    string                  `json:"final_answer,omitempty"`
	FailureReason  string                  `json:"failure_reason,omitempty"`
	FailureKind    pipeline.FailureKind    `json:"failure_kind,omitempty"`
	History        []pipeline.Outcome      `json:"history"`
	BackwardCount  int                     `json:"backward_count"`
	Evidence       []pipeline.EvidenceUnit `json:"evidence,omitempty"`
	NeedsRetrieval bool                    `json:"needs_retrieval"`
	DurationMS     int64                   `json:"duration_ms"`
}

// Succeeded reports whether the run produced an answer.
func (r *Result) Succeeded() bool { return r.Status == pipeline.StatusSucceeded }

// RunError is the failure side of Result.Answer.
type RunError struct {
	RunID  string
	Status string
	Kind   pipeline.FailureKind
	Reason string
}

func (e *RunError) Error() string { return e.Reason }

// Answer returns the final answer, or a *RunError carrying the failure
// reason.
func (r *Result) Answer() (string, error) {
	if r.Succeeded() {
		return r.FinalAnswer, nil
	}
	return "", &RunError{RunID: r.RunID, Status: r.Status, Kind: r.FailureKind, Reason: r.FailureReason}
}

// Run answers one question. Cancelling ctx ends the run at the next
// collaborator boundary with a cancelled result; the returned error is
// reserved for invalid input.
func (o *Orchestrator) Run(ctx context.Context, question string, opts RunOptions) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is required")
	}

	start := o.now()
	runID := o.deps.NewID()
	st := pipeline.NewState(runID, question)
	o.begin(st)
	o.logf("run %s: %s", runID, question)

	if o.cfg.Classifier && o.deps.Classifier != nil {
		st.SetNeedsRetrieval(o.classify(ctx, question))
	}

	next := pipeline.StageQuery
	var d router.Decision
	for {
		res := o.seq.Run(ctx, st, next)
		o.saveState(st, pipeline.StatusRunning)

		d = o.manager.Next(ctx, st)
		o.logDecision(st, res.Outcome, d)
		if d.Terminal() {
			break
		}
		if d.Backward() {
			st.SetFeedback(d.Feedback)
		}
		next = d.Next
	}

	r := o.result(st, d, opts.Partial || o.cfg.PartialOutput)
	r.DurationMS = o.now().Sub(start).Milliseconds()
	o.finish(st, r)
	return r, nil
}

// classify asks the classifier once. Errors and timeouts mean "retrieve".
func (o *Orchestrator) classify(ctx context.Context, question string) bool {
	cctx := ctx
	if t := o.cfg.Timeouts.For(config.CollabClassifier); t > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	callStart := time.Now()
	needs, err := o.deps.Classifier.NeedsRetrieval(cctx, question)
	o.deps.Metrics.ObserveCall(config.CollabClassifier, time.Since(callStart), err)
	if err != nil {
		o.logger.Warn("classifier failed, assuming retrieval is needed", "err", err)
		return true
	}
	if !needs {
		o.logf("  → classifier: no retrieval needed")
	}
	return needs
}

func (o *Orchestrator) result(st *pipeline.PipelineState, d router.Decision, partial bool) *Result {
	r := &Result{
		RunID:          st.RunID(),
		History:        st.History(),
		BackwardCount:  st.BackwardCount(),
		NeedsRetrieval: st.NeedsRetrieval(),
	}
	switch {
	case d.Action == router.ActionSucceed:
		r.Status = pipeline.StatusSucceeded
		r.FinalAnswer = st.FinalAnswer()
		r.Evidence = st.Evidence()
	case d.Kind == pipeline.KindCancelled:
		r.Status = pipeline.StatusCancelled
		r.FailureKind = pipeline.KindCancelled
		r.FailureReason = d.Reason
	default:
		r.Status = pipeline.StatusFailed
		r.FailureKind = d.Kind
		r.FailureReason = d.Reason
	}
	if r.Status != pipeline.StatusSucceeded {
		if r.FailureReason == "" {
			r.FailureReason = "run ended without an answer"
		}
		if partial {
			r.Evidence = st.Evidence()
		}
	}
	return r
}

// Get returns the persisted record of a run.
func (o *Orchestrator) Get(runID string) (*pipeline.RunRecord, error) {
	if o.deps.Store == nil {
		return nil, errors.New("run store is not configured")
	}
	return o.deps.Store.Get(runID)
}

// List returns persisted runs, newest first, optionally filtered by status.
func (o *Orchestrator) List(status string) ([]pipeline.RunRecord, error) {
	if o.deps.Store == nil {
		return nil, errors.New("run store is not configured")
	}
	return o.deps.Store.List(status)
}
