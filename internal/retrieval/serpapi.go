package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

const defaultSerpAPIURL = "https://serpapi.com/search.json"

// SerpAPI is a web search source backed by the SerpAPI JSON endpoint.
type SerpAPI struct {
	endpoint string
	apiKey   string
	engine   string
	http     *http.Client
	logger   *slog.Logger
}

// NewSerpAPI creates a web search source. Empty endpoint and engine use the
// public endpoint and google.
func NewSerpAPI(endpoint, apiKey, engine string, hc *http.Client, logger *slog.Logger) *SerpAPI {
	if endpoint == "" {
		endpoint = defaultSerpAPIURL
	}
	if engine == "" {
		engine = "google"
	}
	return &SerpAPI{endpoint: endpoint, apiKey: apiKey, engine: engine, http: hc, logger: logger}
}

// Name implements Source.
func (s *SerpAPI) Name() string { return "serpapi:" + s.engine }

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
}

// Fetch runs a web search and returns organic results with a snippet.
func (s *SerpAPI) Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error) {
	q := url.Values{}
	q.Set("q", directive)
	q.Set("engine", s.engine)
	q.Set("num", strconv.Itoa(count))
	q.Set("api_key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("serpapi: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("serpapi: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr serpResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("serpapi: decode: %w", err)
	}
	if sr.Error != "" {
		// "hasn't returned any results" is reported as an error payload.
		if strings.Contains(strings.ToLower(sr.Error), "any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi: %s", sr.Error)
	}

	units := make([]pipeline.EvidenceUnit, 0, len(sr.OrganicResults))
	for _, r := range sr.OrganicResults {
		if strings.TrimSpace(r.Snippet) == "" {
			continue
		}
		units = append(units, pipeline.EvidenceUnit{
			ID:      r.Link,
			Title:   r.Title,
			Content: r.Snippet,
			URL:     r.Link,
		})
		if len(units) == count {
			break
		}
	}
	s.logger.Debug("serpapi fetch", "directive", directive, "count", len(units))
	return units, nil
}
