package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/qafactory/internal/config"
	appctx "github.com/lucasnoah/qafactory/internal/context"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
	"github.com/lucasnoah/qafactory/internal/stage"
)

// QueryWorker rewrites the question, proposes search directives and fixes
// the output contract.
type QueryWorker struct {
	caller
	langs config.Languages
}

type queryReply struct {
	Refined      string   `json:"refined_question"`
	Directives   []string `json:"search_directives"`
	ResponseType string   `json:"response_type"`
	Language     string   `json:"language"`
}

// RefineQuery implements stage.QueryWorker. Unknown response types and
// languages fall back to the default contract.
func (w *QueryWorker) RefineQuery(ctx context.Context, st *pipeline.PipelineState, feedback string) (stage.QueryCandidate, error) {
	var reply queryReply
	if err := w.completeJSON(ctx, prompt.QueryWorker, w.vars(st, pipeline.StageQuery, feedback), &reply); err != nil {
		return stage.QueryCandidate{}, err
	}

	contract := pipeline.DefaultContract()
	if t := pipeline.ResponseType(strings.ToLower(strings.TrimSpace(reply.ResponseType))); t.Valid() {
		contract.Type = t
	}
	if reply.Language != "" {
		contract.Language = w.langs.Slot(strings.ToLower(strings.TrimSpace(reply.Language)))
	}
	return stage.QueryCandidate{
		Refined:    reply.Refined,
		Directives: reply.Directives,
		Contract:   contract,
	}, nil
}

// QueryEvaluator scores semantic alignment, format compliance and every
// candidate directive.
type QueryEvaluator struct {
	caller
	threshold float64
	langs     config.Languages
}

type queryGrade struct {
	Alignment  *float64  `json:"semantic_alignment"`
	Compliance *bool     `json:"format_compliance"`
	Scores     []float64 `json:"directive_scores"`
	Reason     string    `json:"reason"`
}

// EvaluateQuery implements stage.QueryEvaluator. The candidate passes when
// alignment reaches the threshold and the format is compliant.
func (e *QueryEvaluator) EvaluateQuery(ctx context.Context, st *pipeline.PipelineState, c stage.QueryCandidate) (stage.QueryVerdict, error) {
	vars := e.vars(st, pipeline.StageQuery, "")
	vars["refined_question"] = c.Refined
	vars["candidate_directives"] = appctx.FormatDirectives(c.Directives)
	vars["response_type"] = string(c.Contract.Type)
	vars["language"] = e.langs.Code(c.Contract.Language)

	var g queryGrade
	if err := e.completeJSON(ctx, prompt.QueryEvaluator, vars, &g); err != nil {
		return stage.QueryVerdict{}, err
	}
	if g.Alignment == nil {
		return stage.QueryVerdict{}, missing(prompt.QueryEvaluator, "semantic_alignment")
	}
	if g.Compliance == nil {
		return stage.QueryVerdict{}, missing(prompt.QueryEvaluator, "format_compliance")
	}

	alignment := clamp(*g.Alignment)
	var notes []string
	if alignment < e.threshold {
		notes = append(notes, fmt.Sprintf("semantic alignment %.2f is below %.2f; keep the original intent", alignment, e.threshold))
	}
	if !*g.Compliance {
		notes = append(notes, "output format or language does not match the request")
	}

	v := stage.Verdict{
		Passed: len(notes) == 0,
		Scores: map[string]float64{"semantic_alignment": alignment},
	}
	if !v.Passed {
		v.Reason = joinReasons(g.Reason, notes)
	}
	return stage.QueryVerdict{
		Verdict:   v,
		Directive: stage.BestDirective(c.Directives, g.Scores),
	}, nil
}
