// Package llm is the provider-neutral completion client used by every
// language-model collaborator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/qafactory/internal/config"
)

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	JSON        bool // ask the provider for a JSON object response
	Temperature float64
	MaxTokens   int
}

// Response is the text a provider returned.
type Response struct {
	Content    string
	StopReason string
}

// Client completes prompts against one model.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Model() string
}

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorRateLimit     ErrorType = "rate_limit"
	ErrorTransient     ErrorType = "transient"
	ErrorEmptyResponse ErrorType = "empty_response"
	ErrorAuth          ErrorType = "auth"
	ErrorBadRequest    ErrorType = "bad_request"
	ErrorTimeout       ErrorType = "timeout"
	ErrorUnknown       ErrorType = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("llm %s", e.Type)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether err is a classified Error of type t.
func IsType(err error, t ErrorType) bool {
	var le *Error
	return errors.As(err, &le) && le.Type == t
}

var statusRe = regexp.MustCompile(`\b([45]\d\d)\b`)

// classify maps a raw provider error to an *Error. statusCode may be 0
// when the SDK does not expose it, in which case the message is searched.
func classify(err error, statusCode int) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrorTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: ErrorTransient, Message: "request canceled", Err: err}
	}

	msg := err.Error()
	if statusCode == 0 {
		if m := statusRe.FindStringSubmatch(msg); m != nil {
			statusCode, _ = strconv.Atoi(m[1])
		}
	}
	switch {
	case statusCode == 401 || statusCode == 403:
		return &Error{Type: ErrorAuth, StatusCode: statusCode, Err: err}
	case statusCode == 429:
		return &Error{Type: ErrorRateLimit, StatusCode: statusCode, Err: err}
	case statusCode == 400 || statusCode == 404 || statusCode == 422:
		return &Error{Type: ErrorBadRequest, StatusCode: statusCode, Err: err}
	case statusCode >= 500:
		return &Error{Type: ErrorTransient, StatusCode: statusCode, Err: err}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return &Error{Type: ErrorTimeout, Err: err}
	case strings.Contains(lower, "connection"), strings.Contains(lower, "eof"), strings.Contains(lower, "reset"):
		return &Error{Type: ErrorTransient, Err: err}
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"):
		return &Error{Type: ErrorRateLimit, Err: err}
	}
	return &Error{Type: ErrorUnknown, Err: err}
}

// New builds a client for one model from the llm config section, wrapped
// with the configured rate limit.
func New(cfg config.LLMConfig, model string, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = cfg.Model
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	var c Client
	switch cfg.Provider {
	case "openai":
		if apiKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai: environment variable %s is not set", cfg.APIKeyEnv)
		}
		c = NewOpenAI(apiKey, cfg.BaseURL, model, logger)
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: environment variable %s is not set", cfg.APIKeyEnv)
		}
		c = NewAnthropic(apiKey, cfg.BaseURL, model, logger)
	case "ollama":
		oc, err := NewOllama(cfg.BaseURL, model, logger)
		if err != nil {
			return nil, err
		}
		c = oc
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	c = WithDefaults(c, cfg.Temperature, cfg.MaxTokens)
	if cfg.RateLimit > 0 {
		c = WithRateLimit(c, cfg.RateLimit, cfg.Burst)
	}
	return c, nil
}
