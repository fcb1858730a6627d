// Package retrieval implements the evidence sources consulted by the
// retrieval stage.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/llm"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
)

// Source fetches candidate evidence for a search directive. An empty result
// with a nil error means the source had nothing to offer.
type Source interface {
	Name() string
	Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error)
}

// Name implements Source.
func (f SourceFunc) Name() string { return f.Label }

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error) {
	return f.Fn(ctx, directive, count)
}

// Deps are the shared collaborators a source may need.
type Deps struct {
	LLM     llm.Client
	Prompts *prompt.Loader
	HTTP    *http.Client
	Logger  *slog.Logger
}

// New builds the source described by cfg.
func New(cfg config.SourceConfig, deps Deps) (Source, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 60 * time.Second}
	}

	switch cfg.Type {
	case "weaviate":
		return NewWeaviate(WeaviateOptions{
			URL:          cfg.URL,
			Class:        cfg.Class,
			ContentField: cfg.ContentField,
			TitleField:   cfg.TitleField,
			URLField:     cfg.URLField,
			MinCertainty: cfg.MinCertainty,
		}, deps.Logger)
	case "serpapi":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("serpapi: environment variable %s is not set", cfg.APIKeyEnv)
		}
		return NewSerpAPI(cfg.URL, key, cfg.Engine, deps.HTTP, deps.Logger), nil
	case "research":
		if deps.LLM == nil {
			return nil, fmt.Errorf("research source requires an llm client")
		}
		return NewResearch(deps.LLM, deps.Prompts, deps.Logger), nil
	case "corpus":
		return LoadCorpus(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
