package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
	logger *slog.Logger
}

// NewAnthropic creates an Anthropic client. baseURL may be empty.
func NewAnthropic(apiKey, baseURL, model string, logger *slog.Logger) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
		logger: logger,
	}
}

// Model returns the model name.
func (a *Anthropic) Model() string { return string(a.model) }

// Complete sends a single user message. The Messages API has no JSON
// response mode, so JSON requests get an explicit instruction instead.
func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Prompt)},
		}},
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	a.logger.Debug("anthropic completion", "model", a.model, "json", req.JSON)
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		a.logger.Warn("anthropic completion failed", "model", a.model, "error", err)
		return Response{}, classify(err, status)
	}
	if resp == nil || len(resp.Content) == 0 {
		return Response{}, &Error{Type: ErrorEmptyResponse, Message: "empty message content"}
	}

	var sb strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return Response{}, &Error{Type: ErrorEmptyResponse, Message: "no text blocks"}
	}
	return Response{Content: sb.String(), StopReason: string(resp.StopReason)}, nil
}
