package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama talks to a local Ollama server.
type Ollama struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

// NewOllama creates an Ollama client. An empty hostURL uses the local
// default.
func NewOllama(hostURL, model string, logger *slog.Logger) (*Ollama, error) {
	if hostURL == "" {
		hostURL = defaultOllamaURL
	}
	u, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	return &Ollama{client: api.NewClient(u, http.DefaultClient), model: model, logger: logger}, nil
}

// Model returns the model name.
func (o *Ollama) Model() string { return o.model }

// Complete sends a non-streaming chat request.
func (o *Ollama) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]api.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: req.Prompt})

	stream := false
	creq := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.JSON {
		creq.Format = json.RawMessage(`"json"`)
	}

	o.logger.Debug("ollama completion", "model", o.model, "json", req.JSON)
	var resp api.ChatResponse
	err := o.client.Chat(ctx, creq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		status := 0
		var se api.StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		o.logger.Warn("ollama completion failed", "model", o.model, "error", err)
		return Response{}, classify(err, status)
	}
	if resp.Message.Content == "" {
		return Response{}, &Error{Type: ErrorEmptyResponse, Message: "empty message content"}
	}
	return Response{Content: resp.Message.Content, StopReason: resp.DoneReason}, nil
}
