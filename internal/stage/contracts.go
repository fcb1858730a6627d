package stage

import (
	"context"
	"errors"
	"strings"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// QueryCandidate is the query refinement worker's payload. Directive is
// filled in by the evaluator's selection.
type QueryCandidate struct {
	Refined    string                  `json:"refined_question"`
	Directives []string                `json:"search_directives"`
	Contract   pipeline.OutputContract `json:"output_contract"`
	Directive  string                  `json:"selected_directive,omitempty"`
}

// QueryVerdict is the query evaluator's judgment plus its directive choice.
type QueryVerdict struct {
	Verdict
	Directive string
}

// QueryWorker refines the user question into a candidate.
type QueryWorker interface {
	RefineQuery(ctx context.Context, st *pipeline.PipelineState, feedback string) (QueryCandidate, error)
}

// QueryEvaluator judges a query candidate and selects its search directive.
type QueryEvaluator interface {
	EvaluateQuery(ctx context.Context, st *pipeline.PipelineState, c QueryCandidate) (QueryVerdict, error)
}

// AnswerWorker writes the final answer.
type AnswerWorker interface {
	WriteAnswer(ctx context.Context, st *pipeline.PipelineState, feedback string) (string, error)
}

// AnswerEvaluator judges a written answer.
type AnswerEvaluator interface {
	EvaluateAnswer(ctx context.Context, st *pipeline.PipelineState, answer string) (Verdict, error)
}

// QueryContract is stage 1: query refinement.
type QueryContract struct {
	Worker    QueryWorker
	Evaluator QueryEvaluator
}

// Stage implements Contract.
func (QueryContract) Stage() pipeline.StageID { return pipeline.StageQuery }

// Produce implements Contract. A payload without a refined question or any
// directive is a malformed collaborator response.
func (q QueryContract) Produce(ctx context.Context, st *pipeline.PipelineState, feedback string) (any, error) {
	c, err := q.Worker.RefineQuery(ctx, st, feedback)
	if err != nil {
		return nil, err
	}
	c.Refined = strings.TrimSpace(c.Refined)
	directives := c.Directives[:0:0]
	for _, d := range c.Directives {
		if d = strings.TrimSpace(d); d != "" {
			directives = append(directives, d)
		}
	}
	c.Directives = directives
	if c.Refined == "" || len(c.Directives) == 0 {
		return nil, malformed("query worker returned no refined question or search directive")
	}
	return &c, nil
}

// Evaluate implements Contract.
func (q QueryContract) Evaluate(ctx context.Context, st *pipeline.PipelineState, candidate any) (Verdict, error) {
	c := candidate.(*QueryCandidate)
	qv, err := q.Evaluator.EvaluateQuery(ctx, st, *c)
	if err != nil {
		return Verdict{}, err
	}
	c.Directive = qv.Directive
	if c.Directive == "" {
		c.Directive = c.Directives[0]
	}
	return qv.Verdict, nil
}

// Commit implements Contract.
func (QueryContract) Commit(st *pipeline.PipelineState, candidate any) {
	c := candidate.(*QueryCandidate)
	st.SetQueryOutputs(c.Refined, c.Directive, c.Contract)
}

// AnswerContract is stage 3: answer synthesis.
type AnswerContract struct {
	Worker    AnswerWorker
	Evaluator AnswerEvaluator
}

// Stage implements Contract.
func (AnswerContract) Stage() pipeline.StageID { return pipeline.StageAnswer }

// Produce implements Contract.
func (a AnswerContract) Produce(ctx context.Context, st *pipeline.PipelineState, feedback string) (any, error) {
	answer, err := a.Worker.WriteAnswer(ctx, st, feedback)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, &CollaboratorError{Collaborator: config.CollabWorker, Kind: CollabEmpty, Err: errors.New("answer worker returned an empty answer")}
	}
	return answer, nil
}

// Evaluate implements Contract.
func (a AnswerContract) Evaluate(ctx context.Context, st *pipeline.PipelineState, candidate any) (Verdict, error) {
	return a.Evaluator.EvaluateAnswer(ctx, st, candidate.(string))
}

// Commit implements Contract.
func (AnswerContract) Commit(st *pipeline.PipelineState, candidate any) {
	st.SetFinalAnswer(candidate.(string))
}

func malformed(msg string) error {
	return &CollaboratorError{Collaborator: config.CollabWorker, Kind: CollabMalformed, Err: errors.New(msg)}
}

// BestDirective returns the highest-scoring directive; ties go to the
// earliest. Missing scores count as zero.
func BestDirective(directives []string, scores []float64) string {
	best, bestScore := "", -1.0
	for i, d := range directives {
		s := 0.0
		if i < len(scores) {
			s = scores[i]
		}
		if s > bestScore {
			best, bestScore = d, s
		}
	}
	return best
}
