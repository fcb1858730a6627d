package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// WeaviateOptions configures a vector store source.
type WeaviateOptions struct {
	URL          string
	Class        string
	ContentField string
	TitleField   string
	URLField     string
	MinCertainty float64
}

// Weaviate retrieves passages from a Weaviate class by nearText search.
type Weaviate struct {
	client *weaviate.Client
	opts   WeaviateOptions
	logger *slog.Logger
}

// NewWeaviate connects a Weaviate source.
func NewWeaviate(opts WeaviateOptions, logger *slog.Logger) (*Weaviate, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("weaviate: invalid url %q", opts.URL)
	}
	if opts.ContentField == "" {
		opts.ContentField = "content"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate: create client: %w", err)
	}
	return &Weaviate{client: client, opts: opts, logger: logger}, nil
}

// Name implements Source.
func (w *Weaviate) Name() string { return "weaviate:" + w.opts.Class }

// Fetch runs a nearText query for the directive.
func (w *Weaviate) Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{directive})
	if w.opts.MinCertainty > 0 {
		nearText = nearText.WithCertainty(float32(w.opts.MinCertainty))
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.opts.Class).
		WithFields(w.fields()...).
		WithNearText(nearText).
		WithLimit(count).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}

	units, err := parseWeaviate(result, w.opts)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("weaviate fetch", "class", w.opts.Class, "directive", directive, "count", len(units))
	return units, nil
}

func (w *Weaviate) fields() []graphql.Field {
	fields := []graphql.Field{{Name: w.opts.ContentField}}
	if w.opts.TitleField != "" {
		fields = append(fields, graphql.Field{Name: w.opts.TitleField})
	}
	if w.opts.URLField != "" {
		fields = append(fields, graphql.Field{Name: w.opts.URLField})
	}
	return append(fields, graphql.Field{Name: "_additional { id certainty distance }"})
}

// parseWeaviate turns a GraphQL Get response into evidence units, skipping
// malformed or empty objects.
func parseWeaviate(result *models.GraphQLResponse, opts WeaviateOptions) ([]pipeline.EvidenceUnit, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[opts.Class].([]interface{})
	if !ok {
		return nil, nil
	}

	units := make([]pipeline.EvidenceUnit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content := strings.TrimSpace(getString(m, opts.ContentField))
		if content == "" {
			continue
		}
		u := pipeline.EvidenceUnit{
			Content: content,
			Title:   getString(m, opts.TitleField),
			URL:     getString(m, opts.URLField),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				u.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				u.Score = certainty
			}
		}
		units = append(units, u)
	}
	return units, nil
}

func getString(m map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
