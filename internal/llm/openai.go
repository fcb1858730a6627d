package llm

import (
	"context"
	"errors"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to the OpenAI chat completions API or any compatible
// endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI client. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, logger: logger}
}

// Model returns the model name.
func (o *OpenAI) Model() string { return o.model }

// Complete sends a chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	o.logger.Debug("openai completion", "model", o.model, "json", req.JSON)
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		status := 0
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.HTTPStatusCode
		}
		o.logger.Warn("openai completion failed", "model", o.model, "error", err)
		return Response{}, classify(err, status)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Response{}, &Error{Type: ErrorEmptyResponse, Message: "no choices or empty content"}
	}
	return Response{
		Content:    resp.Choices[0].Message.Content,
		StopReason: string(resp.Choices[0].FinishReason),
	}, nil
}
