// Package agents implements the language-model collaborators of a run: the
// stage workers and evaluators, the upstream retrieval classifier and the
// routing advisor. Each renders a prompt template, calls an llm.Client and
// decodes a JSON reply.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/qafactory/internal/config"
	appctx "github.com/lucasnoah/qafactory/internal/context"
	"github.com/lucasnoah/qafactory/internal/llm"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
)

// Role names used for per-role model overrides (llm.models in config).
const (
	RoleWorker     = "worker"
	RoleEvaluator  = "evaluator"
	RoleClassifier = "classifier"
	RoleRouter     = "router"
)

// Clients holds one client per role. Nil roles use Default.
type Clients struct {
	Default    llm.Client
	Worker     llm.Client
	Evaluator  llm.Client
	Classifier llm.Client
	Router     llm.Client
}

func (c Clients) pick(role string) llm.Client {
	var client llm.Client
	switch role {
	case RoleWorker:
		client = c.Worker
	case RoleEvaluator:
		client = c.Evaluator
	case RoleClassifier:
		client = c.Classifier
	case RoleRouter:
		client = c.Router
	}
	if client == nil {
		return c.Default
	}
	return client
}

// Set is every collaborator for one configuration.
type Set struct {
	QueryWorker        *QueryWorker
	QueryEvaluator     *QueryEvaluator
	RetrievalEvaluator *RetrievalEvaluator
	AnswerWorker       *AnswerWorker
	AnswerEvaluator    *AnswerEvaluator
	Classifier         *Classifier
	Router             *RouterAdvisor
}

// New builds the collaborator set. A nil loader uses the compiled-in
// templates only.
func New(cfg config.RunConfig, clients Clients, prompts *prompt.Loader) *Set {
	if prompts == nil {
		prompts = prompt.NewLoader("")
	}
	builder := appctx.NewBuilder(cfg.Languages, cfg.MaxEvidenceChars)
	agent := func(role string) caller {
		return caller{client: clients.pick(role), prompts: prompts, builder: builder}
	}
	return &Set{
		QueryWorker:        &QueryWorker{caller: agent(RoleWorker), langs: cfg.Languages},
		QueryEvaluator:     &QueryEvaluator{caller: agent(RoleEvaluator), threshold: cfg.Thresholds.Alignment, langs: cfg.Languages},
		RetrievalEvaluator: &RetrievalEvaluator{caller: agent(RoleEvaluator)},
		AnswerWorker:       &AnswerWorker{caller: agent(RoleWorker)},
		AnswerEvaluator:    &AnswerEvaluator{caller: agent(RoleEvaluator), thresholds: cfg.Thresholds},
		Classifier:         &Classifier{caller: agent(RoleClassifier)},
		Router:             &RouterAdvisor{caller: agent(RoleRouter)},
	}
}

// caller is the shared render-call-decode plumbing.
type caller struct {
	client  llm.Client
	prompts *prompt.Loader
	builder *appctx.Builder
}

// vars returns the template variables for the current attempt of a stage.
func (c caller) vars(st *pipeline.PipelineState, stage pipeline.StageID, feedback string) prompt.Vars {
	return c.builder.Build(st, appctx.BuildOpts{
		Stage:    stage,
		Attempt:  st.RetryCount(stage) + 1,
		Feedback: feedback,
	})
}

// complete renders a template and sends it. JSON requests ask the provider
// for a single JSON object.
func (c caller) complete(ctx context.Context, name string, vars prompt.Vars, jsonMode bool) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("%s: no language model configured", name)
	}
	text, err := c.prompts.RenderNamed(name, vars)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Complete(ctx, llm.Request{Prompt: text, JSON: jsonMode})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", &llm.Error{Type: llm.ErrorEmptyResponse, Message: name + ": empty reply"}
	}
	return resp.Content, nil
}

// completeJSON renders, sends and decodes into v.
func (c caller) completeJSON(ctx context.Context, name string, vars prompt.Vars, v any) error {
	out, err := c.complete(ctx, name, vars, true)
	if err != nil {
		return err
	}
	if err := llm.DecodeJSON(out, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// missing reports a required reply field the model left out.
func missing(template, field string) error {
	return fmt.Errorf("%s: %w: missing %q", template, llm.ErrMalformed, field)
}

// clamp bounds a model-reported score to [0,1].
func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// joinReasons keeps the model's own reason when it gave one, otherwise
// the generated threshold notes.
func joinReasons(model string, notes []string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return strings.Join(notes, "; ")
}
