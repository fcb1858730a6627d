package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors joins every issue found in one config.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

var (
	recognizedProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true}
	recognizedRouters   = map[string]bool{"table": true, "llm": true}
	recognizedSources   = map[string]bool{"weaviate": true, "serpapi": true, "research": true, "corpus": true}
)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// Out-of-range values are reported, never adjusted.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	r := cfg.Run
	for _, b := range []struct {
		field string
		value int
	}{
		{"run.max_retries.query", r.MaxRetries.Query},
		{"run.max_retries.retrieval", r.MaxRetries.Retrieval},
		{"run.max_retries.answer", r.MaxRetries.Answer},
		{"run.max_global_loops", r.MaxGlobalLoops},
		{"run.max_evidence_chars", r.MaxEvidenceChars},
	} {
		if b.value < 0 {
			add(b.field, "must not be negative (got %d)", b.value)
		}
	}

	if r.MinAcceptedEvidence < 1 {
		add("run.min_accepted_evidence", "must be at least 1 (got %d)", r.MinAcceptedEvidence)
	}
	if r.PrimaryAttempts < 1 || r.PrimaryAttempts > r.MaxRetries.Retrieval+1 {
		add("run.primary_attempts", "must be between 1 and max_retries.retrieval+1 (got %d)", r.PrimaryAttempts)
	}
	if r.Fetch.Primary < 1 {
		add("run.fetch.primary", "must be at least 1 (got %d)", r.Fetch.Primary)
	}
	if r.Fetch.Secondary < 1 {
		add("run.fetch.secondary", "must be at least 1 (got %d)", r.Fetch.Secondary)
	}
	if r.EvalConcurrency < 1 {
		add("run.eval_concurrency", "must be at least 1 (got %d)", r.EvalConcurrency)
	}

	for _, th := range []struct {
		field string
		value float64
	}{
		{"run.thresholds.relevance", r.Thresholds.Relevance},
		{"run.thresholds.specificity", r.Thresholds.Specificity},
		{"run.thresholds.alignment", r.Thresholds.Alignment},
		{"run.thresholds.coverage", r.Thresholds.Coverage},
		{"run.thresholds.structure", r.Thresholds.Structure},
	} {
		if th.value < 0 || th.value > 1 {
			add(th.field, "must be within [0, 1] (got %g)", th.value)
		}
	}

	for _, c := range []Collaborator{CollabWorker, CollabEvaluator, CollabPrimary, CollabSecondary, CollabClassifier, CollabRouter} {
		validateTimeout("run.timeouts."+string(c), r.Timeouts.raw(c), &errs)
	}

	if !recognizedRouters[r.Router] {
		add("run.router", "unrecognized router %q (want table or llm)", r.Router)
	}
	if r.Languages.Primary == "" {
		add("run.languages.primary", "is required")
	}
	if r.Languages.Secondary == "" {
		add("run.languages.secondary", "is required")
	}

	l := cfg.LLM
	if !recognizedProviders[l.Provider] {
		add("llm.provider", "unrecognized provider %q", l.Provider)
	}
	if l.Model == "" {
		add("llm.model", "is required")
	}
	if l.MaxTokens < 1 {
		add("llm.max_tokens", "must be at least 1 (got %d)", l.MaxTokens)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		add("llm.temperature", "must be within [0, 2] (got %g)", l.Temperature)
	}
	if l.RateLimit < 0 {
		add("llm.rate_limit", "must not be negative (got %g)", l.RateLimit)
	}
	if l.RateLimit > 0 && l.Burst < 1 {
		add("llm.burst", "must be at least 1 when rate_limit is set (got %d)", l.Burst)
	}

	validateSource("sources.primary", cfg.Sources.Primary, &errs)
	validateSource("sources.secondary", cfg.Sources.Secondary, &errs)

	if cfg.Server.MaxConcurrentRuns < 0 {
		add("server.max_concurrent_runs", "must not be negative (got %d)", cfg.Server.MaxConcurrentRuns)
	}

	return errs
}

// Check runs Validate and folds the result into a single error.
func Check(cfg *Config) error {
	if errs := Validate(cfg); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	return nil
}

func validateTimeout(field, raw string, errs *[]ValidationError) {
	if raw == "" {
		*errs = append(*errs, ValidationError{Field: field, Message: "is required"})
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", raw)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("must be positive (got %s)", raw)})
	}
}

func validateSource(prefix string, s SourceConfig, errs *[]ValidationError) {
	if !recognizedSources[s.Type] {
		*errs = append(*errs, ValidationError{
			Field:   prefix + ".type",
			Message: fmt.Sprintf("unrecognized source type %q", s.Type),
		})
		return
	}

	switch s.Type {
	case "weaviate":
		if s.URL == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".url", Message: "is required for weaviate"})
		}
		if s.Class == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".class", Message: "is required for weaviate"})
		}
		if s.MinCertainty < 0 || s.MinCertainty > 1 {
			*errs = append(*errs, ValidationError{Field: prefix + ".min_certainty", Message: "must be within [0, 1]"})
		}
	case "serpapi":
		if s.APIKeyEnv == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".api_key_env", Message: "is required for serpapi"})
		}
	case "corpus":
		if s.Path == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".path", Message: "is required for corpus"})
		}
	}
}
