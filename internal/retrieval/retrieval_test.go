package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/llm/llmtest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseWeaviate(t *testing.T) {
	opts := WeaviateOptions{Class: "Document", ContentField: "content", TitleField: "title", URLField: "source"}
	result := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Document": []interface{}{
					map[string]interface{}{
						"content": "Refunds are accepted within 30 days.",
						"title":   "Refund policy",
						"source":  "kb://refunds",
						"_additional": map[string]interface{}{
							"id":        "uuid-1",
							"certainty": 0.91,
						},
					},
					map[string]interface{}{"content": "   "},
					"not-an-object",
					map[string]interface{}{"content": "Shipping takes 3 days."},
				},
			},
		},
	}

	units, err := parseWeaviate(result, opts)
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "uuid-1", units[0].ID)
	assert.Equal(t, "Refund policy", units[0].Title)
	assert.Equal(t, "kb://refunds", units[0].URL)
	assert.InDelta(t, 0.91, units[0].Score, 1e-9)
	assert.Equal(t, "Shipping takes 3 days.", units[1].Content)
	assert.Empty(t, units[1].ID)
}

func TestParseWeaviate_Errors(t *testing.T) {
	result := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}
	_, err := parseWeaviate(result, WeaviateOptions{Class: "Document"})
	assert.ErrorContains(t, err, "class not found")
}

func TestParseWeaviate_EmptyShapes(t *testing.T) {
	units, err := parseWeaviate(nil, WeaviateOptions{})
	assert.NoError(t, err)
	assert.Empty(t, units)

	units, err = parseWeaviate(&models.GraphQLResponse{Data: map[string]models.JSONObject{}}, WeaviateOptions{Class: "X"})
	assert.NoError(t, err)
	assert.Empty(t, units)
}

func TestNewWeaviate_InvalidURL(t *testing.T) {
	_, err := NewWeaviate(WeaviateOptions{URL: "not a url", Class: "Document"}, quietLogger())
	assert.Error(t, err)
}

func TestSerpAPI_Fetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "3", r.URL.Query().Get("num"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"organic_results": [
			{"position": 1, "title": "A", "link": "https://a.example", "snippet": "alpha"},
			{"position": 2, "title": "B", "link": "https://b.example", "snippet": ""},
			{"position": 3, "title": "C", "link": "https://c.example", "snippet": "gamma"}
		]}`)
	}))
	defer srv.Close()

	s := NewSerpAPI(srv.URL, "secret", "", srv.Client(), quietLogger())
	units, err := s.Fetch(context.Background(), "refund window", 3)
	require.NoError(t, err)

	assert.Equal(t, "refund window", gotQuery)
	require.Len(t, units, 2)
	assert.Equal(t, "https://a.example", units[0].ID)
	assert.Equal(t, "gamma", units[1].Content)
	assert.Equal(t, "serpapi:google", s.Name())
}

func TestSerpAPI_NoResultsIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error": "Google hasn't returned any results for this query."}`)
	}))
	defer srv.Close()

	units, err := NewSerpAPI(srv.URL, "k", "", srv.Client(), quietLogger()).Fetch(context.Background(), "zzz", 3)
	assert.NoError(t, err)
	assert.Empty(t, units)
}

func TestSerpAPI_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewSerpAPI(srv.URL, "k", "", srv.Client(), quietLogger()).Fetch(context.Background(), "q", 3)
	assert.ErrorContains(t, err, "401")
}

func TestResearch_Fetch(t *testing.T) {
	client := llmtest.New("```json\n" + `{"results": [
		{"title": "Policy", "url": "https://p.example", "summary": "30 day refunds"},
		{"title": "Empty", "url": "https://e.example", "summary": ""},
		{"title": "FAQ", "url": "https://f.example", "summary": "Refunds need a receipt"}
	]}` + "\n```")

	units, err := NewResearch(client, nil, quietLogger()).Fetch(context.Background(), "refund policy", 5)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "Policy", units[0].Title)
	assert.Contains(t, client.Requests[0].Prompt, "refund policy")
	assert.True(t, client.Requests[0].JSON)
}

func TestResearch_Malformed(t *testing.T) {
	client := llmtest.New("I could not find anything.")
	_, err := NewResearch(client, nil, quietLogger()).Fetch(context.Background(), "x", 2)
	assert.Error(t, err)
}

func TestResearch_LLMError(t *testing.T) {
	client := (&llmtest.Client{}).Push(llmtest.Reply{Err: errors.New("boom")})
	_, err := NewResearch(client, nil, quietLogger()).Fetch(context.Background(), "x", 2)
	assert.ErrorContains(t, err, "boom")
}

func TestCorpus_Fetch(t *testing.T) {
	c := NewCorpus("test", []Document{
		{ID: "1", Title: "Refund policy", Content: "Refunds are accepted within 30 days of purchase."},
		{ID: "2", Title: "Shipping", Content: "Orders ship in 3 business days."},
		{ID: "3", Title: "Refund exceptions", Content: "Digital goods refunds are not accepted after download."},
	})

	units, err := c.Fetch(context.Background(), "What is the refund policy for digital goods?", 5)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "3", units[0].ID, "most shared keywords first")
	assert.Equal(t, "1", units[1].ID)

	units, err = c.Fetch(context.Background(), "refund", 1)
	require.NoError(t, err)
	assert.Len(t, units, 1)

	units, err = c.Fetch(context.Background(), "what is the", 5)
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestCorpus_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCorpus("c", nil).Fetch(ctx, "x", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: a
  title: Warranty
  content: The warranty lasts two years.
`), 0o644))

	c, err := LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, "corpus:kb.yaml", c.Name())
	units, err := c.Fetch(context.Background(), "warranty length", 3)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "a", units[0].ID)
}

func TestTokenize(t *testing.T) {
	got := tokenize("What is the refund-policy? Refund, 30 days!")
	assert.Equal(t, []string{"refund", "policy", "30", "days"}, got)
}

func TestNew_Factory(t *testing.T) {
	_, err := New(config.SourceConfig{Type: "nope"}, Deps{})
	assert.Error(t, err)

	t.Setenv("QAF_SERP_KEY", "")
	_, err = New(config.SourceConfig{Type: "serpapi", APIKeyEnv: "QAF_SERP_KEY"}, Deps{})
	assert.ErrorContains(t, err, "QAF_SERP_KEY")

	_, err = New(config.SourceConfig{Type: "research"}, Deps{})
	assert.Error(t, err)

	src, err := New(config.SourceConfig{Type: "research"}, Deps{LLM: llmtest.New("{}")})
	require.NoError(t, err)
	assert.Equal(t, "research:scripted", src.Name())

	src, err = New(config.SourceConfig{Type: "weaviate", URL: "http://localhost:8080", Class: "Document"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "weaviate:Document", src.Name())
}
