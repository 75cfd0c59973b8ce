package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"airose/pkg/api"
	"airose/pkg/config"
	"airose/pkg/llm"
	"airose/pkg/tools"
)

var (
	// ErrToolRoundsExceeded aborts a turn whose responder keeps calling tools.
	ErrToolRoundsExceeded = errors.New("tool rounds exceeded")
	// ErrModel wraps a model call that failed after retries.
	ErrModel = errors.New("model call failed")
)

// EmptyReply stands in for a final answer that carried no text.
const EmptyReply = "Sorry, I could not put together an answer just now. Could you say that again?"

// Responder is one specialised agent: its role instruction and the tools it may call.
type Responder struct {
	Name       string
	SystemRole string
	Tools      []string
}

// Result is what one responder run adds to the conversation.
type Result struct {
	// Reply is the final assistant message.
	Reply llm.Message
	// Steps are the assistant tool-call messages and tool results, in order.
	Steps []llm.Message
	// Rounds counts tool rounds used.
	Rounds int
}

// Messages returns Steps followed by Reply.
func (r *Result) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(r.Steps)+1)
	out = append(out, r.Steps...)
	return append(out, r.Reply)
}

// Engine runs the bounded tool loop of a responder.
type Engine struct {
	client   llm.LLMClient
	registry api.ToolRegistry
	sysCfg   *config.SystemConfig
}

// NewEngine wires an engine. A nil sysCfg means config.DefaultSystemConfig().
func NewEngine(client llm.LLMClient, registry api.ToolRegistry, sysCfg *config.SystemConfig) *Engine {
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}
	return &Engine{client: client, registry: registry, sysCfg: sysCfg}
}

// Validate checks that every tool a responder names is registered.
func (e *Engine) Validate(r Responder) error {
	_, err := e.toolsFor(r)
	return err
}

func (e *Engine) toolsFor(r Responder) ([]llm.Tool, error) {
	out := make([]llm.Tool, 0, len(r.Tools))
	for _, name := range r.Tools {
		t, ok := e.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("responder %s: %w: %s", r.Name, tools.ErrUnknownTool, name)
		}
		out = append(out, t)
	}
	return out, nil
}

// Run answers the conversation as r. history is not modified.
//
// Each tool round sends the history plus every step so far, runs the
// requested calls in order, and records one tool result per call. A reply
// without tool calls ends the loop.
func (e *Engine) Run(ctx context.Context, r Responder, history []llm.Message) (*Result, error) {
	available, err := e.toolsFor(r)
	if err != nil {
		return nil, err
	}

	base := llm.SanitizeHistory(history)
	res := &Result{}
	maxRounds := e.sysCfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = config.DefaultSystemConfig().MaxToolRounds
	}

	for {
		msgs := make([]llm.Message, 0, len(base)+len(res.Steps))
		msgs = append(msgs, base...)
		msgs = append(msgs, res.Steps...)

		reply, err := llm.Complete(ctx, e.client, llm.ChatRequest{
			System:   r.SystemRole,
			Messages: msgs,
			Tools:    available,
		}, e.callOptions())
		if err != nil {
			return nil, fmt.Errorf("%w: responder %s: %w", ErrModel, r.Name, err)
		}
		llm.LogUsage(ctx, r.Name, reply.Usage)

		if len(reply.ToolCalls) == 0 {
			res.Reply = finalize(reply)
			slog.DebugContext(ctx, "Responder finished", "responder", r.Name, "rounds", res.Rounds)
			return res, nil
		}

		if res.Rounds >= maxRounds {
			slog.ErrorContext(ctx, "Tool round budget exhausted", "responder", r.Name, "max", maxRounds)
			return nil, fmt.Errorf("responder %s: %w (max %d)", r.Name, ErrToolRoundsExceeded, maxRounds)
		}
		res.Rounds++

		// Meta 要留著，gemini 下一輪需要 thought signature
		step := reply
		step.Usage = nil
		res.Steps = append(res.Steps, step)
		for _, tc := range reply.ToolCalls {
			out := e.registry.Invoke(ctx, tc, r.Tools)
			res.Steps = append(res.Steps, llm.NewToolResultMessage(tc, out.Text(), out.IsError))
		}
	}
}

// callOptions derives per-call limits from the current system config.
func (e *Engine) callOptions() llm.CallOptions {
	return llm.CallOptions{
		MaxRetries: e.sysCfg.MaxRetries,
		RetryDelay: time.Duration(e.sysCfg.RetryDelayMs) * time.Millisecond,
		Timeout:    time.Duration(e.sysCfg.LLMTimeoutMs) * time.Millisecond,
	}
}

// finalize keeps only the user-visible text of a final answer.
func finalize(msg llm.Message) llm.Message {
	text := strings.TrimSpace(msg.GetTextContent())
	if text == "" {
		text = EmptyReply
	}
	out := llm.NewAssistantMessage(text)
	out.ID = msg.ID
	out.Timestamp = msg.Timestamp
	return out
}
