package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

const validConfig = `
run:
  max_retries:
    query: 1
    retrieval: 3
    answer: 0
  max_global_loops: 1
  min_accepted_evidence: 2
  primary_attempts: 2
  fetch:
    primary: 8
    secondary: 4
  thresholds:
    relevance: 0.7
  timeouts:
    worker: 45s
  router: llm
  languages:
    primary: en
    secondary: fr
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  api_key_env: ANTHROPIC_API_KEY
  models:
    answer_worker: claude-opus-4-1
sources:
  primary:
    type: corpus
    path: ./corpus.yaml
  secondary:
    type: research
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "qafactory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestDefaultIsValid(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("Default() has validation errors: %v", errs)
	}
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Run.MaxRetries.For(pipeline.StageRetrieval) != 3 {
		t.Errorf("MaxRetries.Retrieval = %d, want 3", cfg.Run.MaxRetries.Retrieval)
	}
	if cfg.Run.Fetch.Primary != 8 {
		t.Errorf("Fetch.Primary = %d, want 8", cfg.Run.Fetch.Primary)
	}
	if cfg.Run.Router != "llm" {
		t.Errorf("Router = %q, want %q", cfg.Run.Router, "llm")
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "anthropic")
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want none", errs)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Only relevance was overridden.
	if cfg.Run.Thresholds.Specificity != 0.5 {
		t.Errorf("Thresholds.Specificity = %g, want default 0.5", cfg.Run.Thresholds.Specificity)
	}
	if cfg.Run.Thresholds.Relevance != 0.7 {
		t.Errorf("Thresholds.Relevance = %g, want 0.7", cfg.Run.Thresholds.Relevance)
	}
	if cfg.Run.Timeouts.Evaluator != "60s" {
		t.Errorf("Timeouts.Evaluator = %q, want default 60s", cfg.Run.Timeouts.Evaluator)
	}
	if cfg.Run.EvalConcurrency != 4 {
		t.Errorf("EvalConcurrency = %d, want default 4", cfg.Run.EvalConcurrency)
	}
}

func TestLoadHonoursExplicitZero(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Run.MaxRetries.Answer != 0 {
		t.Errorf("MaxRetries.Answer = %d, want explicit 0", cfg.Run.MaxRetries.Answer)
	}
}

func TestModelFor(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.LLM.ModelFor("answer_worker"); got != "claude-opus-4-1" {
		t.Errorf("ModelFor(answer_worker) = %q, want override", got)
	}
	if got := cfg.LLM.ModelFor("query_worker"); got != "claude-sonnet-4-5" {
		t.Errorf("ModelFor(query_worker) = %q, want default model", got)
	}
}

func TestTimeoutsFor(t *testing.T) {
	cfg := Default()
	if got := cfg.Run.Timeouts.For(CollabWorker).Seconds(); got != 90 {
		t.Errorf("worker timeout = %gs, want 90s", got)
	}
	cfg.Run.Timeouts.Router = "soon"
	if got := cfg.Run.Timeouts.For(CollabRouter); got != 0 {
		t.Errorf("unparseable timeout = %v, want 0", got)
	}
}

func TestLanguages(t *testing.T) {
	l := Languages{Primary: "ko", Secondary: "en"}
	if l.Code(pipeline.LanguageSecondary) != "en" {
		t.Errorf("Code(secondary) = %q, want en", l.Code(pipeline.LanguageSecondary))
	}
	if l.Slot("en") != pipeline.LanguageSecondary {
		t.Errorf("Slot(en) = %q, want secondary", l.Slot("en"))
	}
	if l.Slot("de") != pipeline.LanguagePrimary {
		t.Errorf("Slot(de) = %q, want primary", l.Slot("de"))
	}
}

func TestValidateRejectsNegativeBudgets(t *testing.T) {
	cfg := Default()
	cfg.Run.MaxRetries.Query = -1
	cfg.Run.MaxGlobalLoops = -2

	errs := Validate(cfg)
	if !hasField(errs, "run.max_retries.query") {
		t.Errorf("expected error on run.max_retries.query, got %v", errs)
	}
	if !hasField(errs, "run.max_global_loops") {
		t.Errorf("expected error on run.max_global_loops, got %v", errs)
	}
	// Values are reported, not clamped.
	if cfg.Run.MaxRetries.Query != -1 {
		t.Errorf("MaxRetries.Query mutated to %d", cfg.Run.MaxRetries.Query)
	}
}

func TestValidatePrimaryAttemptsRange(t *testing.T) {
	cfg := Default()
	cfg.Run.MaxRetries.Retrieval = 1
	cfg.Run.PrimaryAttempts = 3

	if !hasField(Validate(cfg), "run.primary_attempts") {
		t.Error("expected error on run.primary_attempts")
	}

	cfg.Run.PrimaryAttempts = 2
	if hasField(Validate(cfg), "run.primary_attempts") {
		t.Error("primary_attempts = max_retries+1 should be accepted")
	}
}

func TestValidateThresholdRange(t *testing.T) {
	cfg := Default()
	cfg.Run.Thresholds.Specificity = 1.5

	if !hasField(Validate(cfg), "run.thresholds.specificity") {
		t.Error("expected error on run.thresholds.specificity")
	}
}

func TestValidateTimeouts(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"missing", ""},
		{"unparseable", "thirty seconds"},
		{"zero", "0s"},
		{"negative", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Run.Timeouts.Evaluator = tt.value
			if !hasField(Validate(cfg), "run.timeouts.evaluator") {
				t.Errorf("expected error for evaluator timeout %q", tt.value)
			}
		})
	}
}

func TestValidateUnknownProviderAndRouter(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "carrier-pigeon"
	cfg.Run.Router = "vibes"

	errs := Validate(cfg)
	if !hasField(errs, "llm.provider") {
		t.Error("expected error on llm.provider")
	}
	if !hasField(errs, "run.router") {
		t.Error("expected error on run.router")
	}
}

func TestValidateSources(t *testing.T) {
	cfg := Default()
	cfg.Sources.Primary = SourceConfig{Type: "weaviate"}
	cfg.Sources.Secondary = SourceConfig{Type: "corpus"}

	errs := Validate(cfg)
	for _, field := range []string{"sources.primary.url", "sources.primary.class", "sources.secondary.path"} {
		if !hasField(errs, field) {
			t.Errorf("expected error on %s, got %v", field, errs)
		}
	}

	cfg.Sources.Secondary = SourceConfig{Type: "ftp"}
	if !hasField(Validate(cfg), "sources.secondary.type") {
		t.Error("expected error on sources.secondary.type")
	}
}

func TestCheckJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Run.MinAcceptedEvidence = 0
	cfg.Run.EvalConcurrency = 0

	err := Check(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "run.min_accepted_evidence") || !strings.Contains(msg, "run.eval_concurrency") {
		t.Errorf("Check() = %q, want both fields mentioned", msg)
	}
	if Check(Default()) != nil {
		t.Error("Check(Default()) should be nil")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeTestConfig(t, "not: [valid: yaml: !!!")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadDefaultFallsBackToBuiltin(t *testing.T) {
	orig, _ := os.Getwd()
	dir := t.TempDir()
	os.Chdir(dir)
	defer os.Chdir(orig)
	t.Setenv("HOME", dir)

	cfg, path, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if cfg.Run.MaxGlobalLoops != 2 {
		t.Errorf("MaxGlobalLoops = %d, want default 2", cfg.Run.MaxGlobalLoops)
	}
}

func TestLoadDefaultFromCurrentDir(t *testing.T) {
	orig, _ := os.Getwd()
	dir := t.TempDir()
	os.Chdir(dir)
	defer os.Chdir(orig)
	t.Setenv("HOME", dir)

	os.WriteFile(filepath.Join(dir, "qafactory.yaml"), []byte("run:\n  max_global_loops: 5\n"), 0644)

	cfg, path, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if path != "qafactory.yaml" {
		t.Errorf("path = %q, want qafactory.yaml", path)
	}
	if cfg.Run.MaxGlobalLoops != 5 {
		t.Errorf("MaxGlobalLoops = %d, want 5", cfg.Run.MaxGlobalLoops)
	}
}
