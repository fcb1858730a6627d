package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lucasnoah/qafactory/internal/llm"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
)

// Research asks a language model to act as a web researcher and return
// summarized findings as evidence.
type Research struct {
	llm     llm.Client
	prompts *prompt.Loader
	logger  *slog.Logger
}

// NewResearch creates a research source. A nil loader uses the built-in
// templates.
func NewResearch(client llm.Client, prompts *prompt.Loader, logger *slog.Logger) *Research {
	if prompts == nil {
		prompts = prompt.NewLoader("")
	}
	return &Research{llm: client, prompts: prompts, logger: logger}
}

// Name implements Source.
func (r *Research) Name() string { return "research:" + r.llm.Model() }

type researchOutput struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Summary string `json:"summary"`
	} `json:"results"`
}

// Fetch requests count findings for the directive.
func (r *Research) Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error) {
	text, err := r.prompts.RenderNamed(prompt.Research, prompt.Vars{
		"count":     strconv.Itoa(count),
		"directive": directive,
	})
	if err != nil {
		return nil, err
	}
	resp, err := r.llm.Complete(ctx, llm.Request{Prompt: text, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}

	var out researchOutput
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}

	units := make([]pipeline.EvidenceUnit, 0, len(out.Results))
	for _, res := range out.Results {
		if strings.TrimSpace(res.Summary) == "" {
			continue
		}
		units = append(units, pipeline.EvidenceUnit{
			Title:   res.Title,
			URL:     res.URL,
			Content: res.Summary,
		})
		if len(units) == count {
			break
		}
	}
	r.logger.Debug("research fetch", "directive", directive, "count", len(units))
	return units, nil
}
