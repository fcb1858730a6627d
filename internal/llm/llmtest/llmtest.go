// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lucasnoah/qafactory/internal/llm"
)

// Reply is one scripted completion.
type Reply struct {
	Content string
	Err     error
}

// Client returns scripted replies in order. Once the script is exhausted the
// last reply repeats. A Respond func, when set, takes precedence.
type Client struct {
	mu       sync.Mutex
	replies  []Reply
	Respond  func(req llm.Request) (string, error)
	Requests []llm.Request
}

// New creates a client that returns contents in order.
func New(contents ...string) *Client {
	c := &Client{}
	for _, s := range contents {
		c.replies = append(c.replies, Reply{Content: s})
	}
	return c
}

// Push appends replies to the script.
func (c *Client) Push(r ...Reply) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, r...)
	return c
}

// Model implements llm.Client.
func (c *Client) Model() string { return "scripted" }

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	idx := len(c.Requests) - 1
	respond := c.Respond
	var r Reply
	switch {
	case respond != nil:
	case len(c.replies) == 0:
		c.mu.Unlock()
		return llm.Response{}, fmt.Errorf("llmtest: no scripted reply for call %d", idx+1)
	case idx < len(c.replies):
		r = c.replies[idx]
	default:
		r = c.replies[len(c.replies)-1]
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if respond != nil {
		s, err := respond(req)
		return llm.Response{Content: s}, err
	}
	return llm.Response{Content: r.Content}, r.Err
}

// Calls returns how many completions were requested.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}
