package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			MaxRetries:          StageBudgets{Query: 2, Retrieval: 4, Answer: 2},
			MaxGlobalLoops:      2,
			MinAcceptedEvidence: 3,
			PrimaryAttempts:     2,
			Fetch:               FetchCounts{Primary: 5, Secondary: 3},
			Thresholds: Thresholds{
				Relevance:   0.6,
				Specificity: 0.5,
				Alignment:   0.8,
				Coverage:    0.7,
				Structure:   0.7,
			},
			Timeouts: Timeouts{
				Worker:     "90s",
				Evaluator:  "60s",
				Primary:    "30s",
				Secondary:  "60s",
				Classifier: "20s",
				Router:     "30s",
			},
			EvalConcurrency:  4,
			Router:           "table",
			Classifier:       true,
			Languages:        Languages{Primary: "ko", Secondary: "en"},
			MaxEvidenceChars: 12000,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 2048,
			Burst:     1,
		},
		Sources: SourcesConfig{
			Primary: SourceConfig{
				Type:         "weaviate",
				URL:          "http://localhost:8080",
				Class:        "Document",
				ContentField: "content",
				TitleField:   "title",
				URLField:     "source",
			},
			Secondary: SourceConfig{
				Type:      "serpapi",
				URL:       "https://serpapi.com/search.json",
				APIKeyEnv: "SERPAPI_API_KEY",
				Engine:    "google",
			},
		},
		Storage: StorageConfig{Persist: true},
		Server:  ServerConfig{Addr: ":8088", MaxConcurrentRuns: 4},
	}
}

// Load reads a YAML config file. Keys absent from the file keep their
// built-in defaults; keys present, including explicit zeros, win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SearchPaths returns the locations LoadDefault looks at, in order.
func SearchPaths() []string {
	paths := []string{"qafactory.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".qafactory", "config.yaml"))
	}
	return paths
}

// LoadDefault loads the first config found in SearchPaths. With none
// present it returns the built-in defaults and an empty path.
func LoadDefault() (*Config, string, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}
