package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// defaulted fills zero temperature and token limits from config.
type defaulted struct {
	next        Client
	temperature float64
	maxTokens   int
}

// WithDefaults applies configured sampling defaults to requests that leave
// them unset.
func WithDefaults(next Client, temperature float64, maxTokens int) Client {
	return &defaulted{next: next, temperature: temperature, maxTokens: maxTokens}
}

func (d *defaulted) Model() string { return d.next.Model() }

func (d *defaulted) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Temperature == 0 {
		req.Temperature = d.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = d.maxTokens
	}
	return d.next.Complete(ctx, req)
}

// limited waits on a token bucket before each call.
type limited struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit wraps a client so calls are admitted at most perSecond
// times per second with the given burst.
func WithRateLimit(next Client, perSecond float64, burst int) Client {
	if burst < 1 {
		burst = 1
	}
	return &limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limited) Model() string { return l.next.Model() }

func (l *limited) Complete(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Response{}, classify(ctx.Err(), 0)
		}
		return Response{}, &Error{Type: ErrorRateLimit, Message: fmt.Sprintf("rate limiter: %v", err)}
	}
	return l.next.Complete(ctx, req)
}
