package agents

import (
	"context"
	"fmt"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
	"github.com/lucasnoah/qafactory/internal/stage"
)

// RetrievalEvaluator grades single evidence units.
type RetrievalEvaluator struct {
	caller
}

type unitReply struct {
	Relevance   *float64 `json:"relevance"`
	Specificity *float64 `json:"specificity"`
	Reason      string   `json:"reason"`
}

// EvaluateUnit implements stage.UnitEvaluator. It may be called
// concurrently for different units of the same state.
func (e *RetrievalEvaluator) EvaluateUnit(ctx context.Context, st *pipeline.PipelineState, unit pipeline.EvidenceUnit) (stage.UnitGrade, error) {
	vars := e.builder.UnitVars(e.vars(st, pipeline.StageRetrieval, ""), unit)

	var r unitReply
	if err := e.completeJSON(ctx, prompt.RetrievalEvaluator, vars, &r); err != nil {
		return stage.UnitGrade{}, err
	}
	if r.Relevance == nil {
		return stage.UnitGrade{}, missing(prompt.RetrievalEvaluator, "relevance")
	}
	if r.Specificity == nil {
		return stage.UnitGrade{}, missing(prompt.RetrievalEvaluator, "specificity")
	}
	return stage.UnitGrade{
		Relevance:   clamp(*r.Relevance),
		Specificity: clamp(*r.Specificity),
		Reason:      r.Reason,
	}, nil
}

// AnswerWorker writes the final answer, from the accepted evidence when
// there is any and from general knowledge otherwise.
type AnswerWorker struct {
	caller
}

// WriteAnswer implements stage.AnswerWorker.
func (w *AnswerWorker) WriteAnswer(ctx context.Context, st *pipeline.PipelineState, feedback string) (string, error) {
	return w.complete(ctx, prompt.AnswerWorker, w.vars(st, pipeline.StageAnswer, feedback), false)
}

// AnswerEvaluator checks rules compliance, question coverage and logical
// structure.
type AnswerEvaluator struct {
	caller
	thresholds config.Thresholds
}

type answerGrade struct {
	Compliance *bool    `json:"rules_compliance"`
	Coverage   *float64 `json:"question_coverage"`
	Structure  *float64 `json:"logical_structure"`
	Reason     string   `json:"reason"`
}

// EvaluateAnswer implements stage.AnswerEvaluator.
func (e *AnswerEvaluator) EvaluateAnswer(ctx context.Context, st *pipeline.PipelineState, answer string) (stage.Verdict, error) {
	vars := e.vars(st, pipeline.StageAnswer, "")
	vars["answer"] = answer

	var g answerGrade
	if err := e.completeJSON(ctx, prompt.AnswerEvaluator, vars, &g); err != nil {
		return stage.Verdict{}, err
	}
	switch {
	case g.Compliance == nil:
		return stage.Verdict{}, missing(prompt.AnswerEvaluator, "rules_compliance")
	case g.Coverage == nil:
		return stage.Verdict{}, missing(prompt.AnswerEvaluator, "question_coverage")
	case g.Structure == nil:
		return stage.Verdict{}, missing(prompt.AnswerEvaluator, "logical_structure")
	}

	coverage, structure := clamp(*g.Coverage), clamp(*g.Structure)
	var notes []string
	if !*g.Compliance {
		notes = append(notes, "answer does not follow the requested format or language")
	}
	if coverage < e.thresholds.Coverage {
		notes = append(notes, fmt.Sprintf("question coverage %.2f is below %.2f", coverage, e.thresholds.Coverage))
	}
	if structure < e.thresholds.Structure {
		notes = append(notes, fmt.Sprintf("logical structure %.2f is below %.2f", structure, e.thresholds.Structure))
	}

	v := stage.Verdict{
		Passed: len(notes) == 0,
		Scores: map[string]float64{"question_coverage": coverage, "logical_structure": structure},
	}
	if !v.Passed {
		v.Reason = joinReasons(g.Reason, notes)
	}
	return v, nil
}
