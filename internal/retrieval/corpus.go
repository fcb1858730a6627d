package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Document is one entry of a local corpus file.
type Document struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	URL     string `yaml:"url" json:"url"`
	Content string `yaml:"content" json:"content"`
}

// Corpus is an in-memory document set searched by keyword overlap. It backs
// offline runs and tests.
type Corpus struct {
	name   string
	docs   []Document
	tokens [][]string
}

// NewCorpus indexes docs.
func NewCorpus(name string, docs []Document) *Corpus {
	c := &Corpus{name: name, docs: docs, tokens: make([][]string, len(docs))}
	for i, d := range docs {
		c.tokens[i] = tokenize(d.Title + " " + d.Content)
	}
	return c
}

// LoadCorpus reads a YAML (or JSON, which YAML accepts) list of documents.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return NewCorpus("corpus:"+filepath.Base(path), docs), nil
}

// Name implements Source.
func (c *Corpus) Name() string { return c.name }

// Fetch returns up to count documents sharing at least one keyword with the
// directive, best overlap first.
func (c *Corpus) Fetch(ctx context.Context, directive string, count int) ([]pipeline.EvidenceUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := tokenize(directive)
	if len(query) == 0 {
		return nil, nil
	}

	type hit struct {
		idx    int
		shared int
	}
	var hits []hit
	for i, toks := range c.tokens {
		if n := sharedKeywords(query, toks); n > 0 {
			hits = append(hits, hit{idx: i, shared: n})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].shared > hits[b].shared })
	if len(hits) > count {
		hits = hits[:count]
	}

	units := make([]pipeline.EvidenceUnit, 0, len(hits))
	for _, h := range hits {
		d := c.docs[h.idx]
		units = append(units, pipeline.EvidenceUnit{
			ID:      d.ID,
			Title:   d.Title,
			URL:     d.URL,
			Content: d.Content,
			Score:   float64(h.shared) / float64(len(query)),
		})
	}
	return units, nil
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"not": true, "and": true, "or": true, "but": true, "if": true,
	"as": true, "at": true, "by": true, "for": true, "from": true,
	"in": true, "into": true, "of": true, "on": true, "to": true,
	"with": true, "about": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"my": true, "your": true, "we": true, "they": true, "tell": true,
}

// tokenize splits text into unique lowercase non-stopword tokens.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

func sharedKeywords(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	n := 0
	for _, t := range b {
		if set[t] {
			n++
		}
	}
	return n
}
