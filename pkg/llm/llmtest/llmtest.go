// Package llmtest provides deterministic LLM clients for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"airose/pkg/llm"
)

// ErrScriptExhausted is returned when a ScriptedClient runs out of replies.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Reply is one scripted model response.
type Reply struct {
	Text      string
	ToolCalls []llm.ToolCall
	// Err fails StreamChat itself.
	Err error
	// StreamErr is delivered as a fatal chunk after any content.
	StreamErr error
}

// Text scripts a plain text answer.
func Text(s string) Reply {
	return Reply{Text: s}
}

// Call scripts a single tool call with JSON arguments.
func Call(name, args string) Reply {
	return Reply{ToolCalls: []llm.ToolCall{{Name: name, Arguments: args}}}
}

// Fail scripts a request-level failure.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// ScriptedClient replays replies in order and records every request.
// When Respond is set it is consulted instead of the script.
type ScriptedClient struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.ChatRequest
	calls    int

	Respond func(req llm.ChatRequest) Reply
}

// NewScripted returns a client that answers with replies in order.
func NewScripted(replies ...Reply) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// NewFunc returns a client that computes each reply from the request.
func NewFunc(fn func(req llm.ChatRequest) Reply) *ScriptedClient {
	return &ScriptedClient{Respond: fn}
}

// Requests returns a copy of every request seen so far.
func (c *ScriptedClient) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ChatRequest(nil), c.requests...)
}

// Remaining reports how many scripted replies are still queued.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}

func (c *ScriptedClient) next(req llm.ChatRequest) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	c.requests = append(c.requests, cp)
	c.calls++

	if c.Respond != nil {
		return c.Respond(cp), nil
	}
	if len(c.replies) == 0 {
		return Reply{}, ErrScriptExhausted
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

// StreamChat implements llm.LLMClient.
func (c *ScriptedClient) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	r, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}

	c.mu.Lock()
	seq := c.calls
	c.mu.Unlock()

	ch := make(chan llm.StreamChunk, 4)
	if r.Text != "" {
		ch <- llm.NewTextChunk(r.Text)
	}
	if len(r.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, len(r.ToolCalls))
		for i, tc := range r.ToolCalls {
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("call_%d_%d", seq, i)
			}
			calls[i] = tc
		}
		ch <- llm.NewToolCallChunk(calls...)
	}
	if r.StreamErr != nil {
		ch <- llm.NewErrorChunk(r.StreamErr.Error(), r.StreamErr, true)
	} else {
		reason := llm.StopReasonStop
		if len(r.ToolCalls) > 0 {
			reason = llm.StopReasonToolCall
		}
		ch <- llm.NewFinalChunk(reason, &llm.LLMUsage{StopReason: reason})
	}
	close(ch)
	return ch, nil
}

// IsTransientError implements llm.LLMClient.
func (c *ScriptedClient) IsTransientError(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ErrTransient can be scripted to exercise retry paths.
var ErrTransient = errors.New("llmtest: transient failure")

// StaticEmbedder maps known texts to fixed vectors and everything else to
// a zero vector of the same dimension.
type StaticEmbedder struct {
	Vectors map[string][]float32
	Dim     int
}

// Embed implements llm.Embedder.
func (e *StaticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = make([]float32, e.Dim)
	}
	return out, nil
}
