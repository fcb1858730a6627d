package config

import (
	"time"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Config is the top-level qafactory configuration.
type Config struct {
	Run     RunConfig     `yaml:"run"`
	LLM     LLMConfig     `yaml:"llm"`
	Sources SourcesConfig `yaml:"sources"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
}

// RunConfig holds the budgets, thresholds and timeouts that govern a run.
type RunConfig struct {
	MaxRetries          StageBudgets `yaml:"max_retries"`
	MaxGlobalLoops      int          `yaml:"max_global_loops"`
	MinAcceptedEvidence int          `yaml:"min_accepted_evidence"`
	PrimaryAttempts     int          `yaml:"primary_attempts"`
	Fetch               FetchCounts  `yaml:"fetch"`
	Thresholds          Thresholds   `yaml:"thresholds"`
	Timeouts            Timeouts     `yaml:"timeouts"`
	EvalConcurrency     int          `yaml:"eval_concurrency"`
	Router              string       `yaml:"router"` // "table" or "llm"
	Classifier          bool         `yaml:"classifier"`
	PartialOutput       bool         `yaml:"partial_output"`
	Languages           Languages    `yaml:"languages"`
	MaxEvidenceChars    int          `yaml:"max_evidence_chars"`
}

// StageBudgets is the retry ceiling per stage.
type StageBudgets struct {
	Query     int `yaml:"query"`
	Retrieval int `yaml:"retrieval"`
	Answer    int `yaml:"answer"`
}

// For returns the budget for a stage.
func (b StageBudgets) For(stage pipeline.StageID) int {
	switch stage {
	case pipeline.StageQuery:
		return b.Query
	case pipeline.StageRetrieval:
		return b.Retrieval
	case pipeline.StageAnswer:
		return b.Answer
	}
	return 0
}

// FetchCounts is how many candidate units each source is asked for.
type FetchCounts struct {
	Primary   int `yaml:"primary"`
	Secondary int `yaml:"secondary"`
}

// Thresholds are the pass marks for graded evaluator criteria, in [0,1].
type Thresholds struct {
	Relevance   float64 `yaml:"relevance"`
	Specificity float64 `yaml:"specificity"`
	Alignment   float64 `yaml:"alignment"`
	Coverage    float64 `yaml:"coverage"`
	Structure   float64 `yaml:"structure"`
}

// Timeouts are per-collaborator call limits as Go duration strings.
type Timeouts struct {
	Worker     string `yaml:"worker"`
	Evaluator  string `yaml:"evaluator"`
	Primary    string `yaml:"primary"`
	Secondary  string `yaml:"secondary"`
	Classifier string `yaml:"classifier"`
	Router     string `yaml:"router"`
}

// Collaborator names a timeout slot.
type Collaborator string

const (
	CollabWorker     Collaborator = "worker"
	CollabEvaluator  Collaborator = "evaluator"
	CollabPrimary    Collaborator = "primary"
	CollabSecondary  Collaborator = "secondary"
	CollabClassifier Collaborator = "classifier"
	CollabRouter     Collaborator = "router"
)

func (t Timeouts) raw(c Collaborator) string {
	switch c {
	case CollabWorker:
		return t.Worker
	case CollabEvaluator:
		return t.Evaluator
	case CollabPrimary:
		return t.Primary
	case CollabSecondary:
		return t.Secondary
	case CollabClassifier:
		return t.Classifier
	case CollabRouter:
		return t.Router
	}
	return ""
}

// For returns the parsed timeout for a collaborator. Validate rejects
// unparseable values, so a validated config never yields zero.
func (t Timeouts) For(c Collaborator) time.Duration {
	d, err := time.ParseDuration(t.raw(c))
	if err != nil {
		return 0
	}
	return d
}

// Languages maps the two language slots to concrete language codes.
type Languages struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// Code returns the language code for a slot.
func (l Languages) Code(lang pipeline.Language) string {
	if lang == pipeline.LanguageSecondary {
		return l.Secondary
	}
	return l.Primary
}

// Slot maps a language code back to its slot. Unknown codes map to primary.
func (l Languages) Slot(code string) pipeline.Language {
	if code != "" && code == l.Secondary && code != l.Primary {
		return pipeline.LanguageSecondary
	}
	return pipeline.LanguagePrimary
}

// LLMConfig selects and tunes the language-model provider.
type LLMConfig struct {
	Provider    string            `yaml:"provider"` // openai, anthropic, ollama
	Model       string            `yaml:"model"`
	Models      map[string]string `yaml:"models,omitempty"` // per-role override
	BaseURL     string            `yaml:"base_url,omitempty"`
	APIKeyEnv   string            `yaml:"api_key_env,omitempty"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	RateLimit   float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst       int               `yaml:"burst"`
}

// ModelFor returns the model for a role, falling back to the default model.
func (c LLMConfig) ModelFor(role string) string {
	if m := c.Models[role]; m != "" {
		return m
	}
	return c.Model
}

// SourcesConfig configures the two retrieval sources.
type SourcesConfig struct {
	Primary   SourceConfig `yaml:"primary"`
	Secondary SourceConfig `yaml:"secondary"`
}

// SourceConfig configures one retrieval source.
type SourceConfig struct {
	Type         string  `yaml:"type"` // weaviate, serpapi, research, corpus
	URL          string  `yaml:"url,omitempty"`
	Class        string  `yaml:"class,omitempty"`
	ContentField string  `yaml:"content_field,omitempty"`
	TitleField   string  `yaml:"title_field,omitempty"`
	URLField     string  `yaml:"url_field,omitempty"`
	MinCertainty float64 `yaml:"min_certainty,omitempty"`
	APIKeyEnv    string  `yaml:"api_key_env,omitempty"`
	Engine       string  `yaml:"engine,omitempty"`
	Path         string  `yaml:"path,omitempty"`
}

// StorageConfig locates run records and the event log.
type StorageConfig struct {
	Persist bool   `yaml:"persist"`
	Dir     string `yaml:"dir,omitempty"` // run store directory, default ~/.qafactory/runs
	DB      string `yaml:"db,omitempty"`  // SQLite path or postgres:// DSN, default ~/.qafactory/qafactory.db
}

// ServerConfig configures `qafactory serve`.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"` // 0 = unlimited
}
