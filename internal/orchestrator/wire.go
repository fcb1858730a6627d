package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/lucasnoah/qafactory/internal/agents"
	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/db"
	"github.com/lucasnoah/qafactory/internal/llm"
	"github.com/lucasnoah/qafactory/internal/metrics"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
	"github.com/lucasnoah/qafactory/internal/retrieval"
)

// Options are the process-level sinks shared by every run.
type Options struct {
	Store     *pipeline.Store
	DB        *db.DB
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	PromptDir string // template overrides; "" uses the compiled-in prompts
}

// NewFromConfig builds the language-model clients, retrieval sources and
// agents cfg describes, then the orchestrator over them.
func NewFromConfig(cfg *config.Config, opts Options) (*Orchestrator, error) {
	if err := config.Check(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clients, err := buildClients(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	prompts := prompt.NewLoader(opts.PromptDir)
	set := agents.New(cfg.Run, clients, prompts)

	srcDeps := retrieval.Deps{LLM: clients.Default, Prompts: prompts, Logger: logger}
	primary, err := retrieval.New(cfg.Sources.Primary, srcDeps)
	if err != nil {
		return nil, fmt.Errorf("primary source: %w", err)
	}
	secondary, err := retrieval.New(cfg.Sources.Secondary, srcDeps)
	if err != nil {
		return nil, fmt.Errorf("secondary source: %w", err)
	}

	return New(cfg, Deps{
		QueryWorker:        set.QueryWorker,
		QueryEvaluator:     set.QueryEvaluator,
		Primary:            primary,
		Secondary:          secondary,
		RetrievalEvaluator: set.RetrievalEvaluator,
		AnswerWorker:       set.AnswerWorker,
		AnswerEvaluator:    set.AnswerEvaluator,
		Classifier:         set.Classifier,
		Advisor:            set.Router,
		Store:              opts.Store,
		DB:                 opts.DB,
		Metrics:            opts.Metrics,
		Logger:             logger,
	})
}

// buildClients creates one client per distinct model named in cfg.
func buildClients(cfg config.LLMConfig, logger *slog.Logger) (agents.Clients, error) {
	byModel := map[string]llm.Client{}
	get := func(role string) (llm.Client, error) {
		model := cfg.ModelFor(role)
		if c, ok := byModel[model]; ok {
			return c, nil
		}
		c, err := llm.New(cfg, model, logger)
		if err != nil {
			return nil, fmt.Errorf("llm client for %s: %w", role, err)
		}
		byModel[model] = c
		return c, nil
	}

	var clients agents.Clients
	var err error
	if clients.Default, err = get(""); err != nil {
		return clients, err
	}
	roles := []struct {
		name string
		dst  *llm.Client
	}{
		{agents.RoleWorker, &clients.Worker},
		{agents.RoleEvaluator, &clients.Evaluator},
		{agents.RoleClassifier, &clients.Classifier},
		{agents.RoleRouter, &clients.Router},
	}
	for _, r := range roles {
		if *r.dst, err = get(r.name); err != nil {
			return clients, err
		}
	}
	return clients, nil
}
