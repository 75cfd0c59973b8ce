// Package supervisor decides which responder, if any, handles a turn.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"airose/pkg/config"
	"airose/pkg/llm"
	"airose/pkg/monitor"
	"airose/pkg/prompts"
	"airose/pkg/state"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RouteTool is the name of the forced routing call.
const RouteTool = "route"

// FallbackMessage is shown to the user when no usable decision came back.
const FallbackMessage = "The tool is not called, some thing is wrong with the supervisor!!"

var errNoDecision = errors.New("no routing decision")

// Decision is one routing verdict.
type Decision struct {
	// Next is state.End or a responder name.
	Next string `json:"next"`
	// Message is a clarifying question (Next == End) or a reformulated
	// request for the responder. May be empty.
	Message string `json:"message,omitempty"`
}

// Fallback is the decision used when routing fails.
func Fallback() Decision {
	return Decision{Next: state.End, Message: FallbackMessage}
}

// routeTool is the llm.Tool offered (and forced) on every routing call.
type routeTool struct {
	options []string
}

func (t routeTool) Name() string        { return RouteTool }
func (t routeTool) Description() string { return prompts.RouteToolDescription }
func (t routeTool) Parameters() map[string]any {
	return map[string]any{
		"next": map[string]any{
			"type": "string",
			"enum": t.options,
		},
		"message": map[string]any{
			"type":        "string",
			"description": prompts.RouteMessageDescription,
		},
	}
}
func (t routeTool) RequiredParameters() []string { return []string{"next"} }

// Router asks the model for a Decision.
type Router struct {
	client  llm.LLMClient
	system  string
	options []string
	sysCfg  *config.SystemConfig
}

// NewRouter builds a router over members. An empty persona uses prompts.Supervisor.
func NewRouter(client llm.LLMClient, members []prompts.Member, persona string, sysCfg *config.SystemConfig) *Router {
	if persona == "" {
		persona = prompts.Supervisor
	}
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}

	names := make([]string, len(members))
	roster := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
		roster[i] = m.Name
		if m.Description != "" {
			roster[i] = fmt.Sprintf("%s (%s)", m.Name, m.Description)
		}
	}

	return &Router{
		client:  client,
		system:  prompts.Render(persona, map[string]string{"members": strings.Join(roster, ", ")}),
		options: append([]string{state.End}, names...),
		sysCfg:  sysCfg,
	}
}

// Options returns the allowed values of Decision.Next.
func (r *Router) Options() []string {
	return slices.Clone(r.options)
}

// Route never fails: any problem yields Fallback().
func (r *Router) Route(ctx context.Context, msgs []llm.Message) Decision {
	d, err := r.route(ctx, msgs)
	if err != nil {
		slog.ErrorContext(ctx, "Supervisor routing failed, falling back", "error", err)
		d = Fallback()
	}
	monitor.ObserveRoute(d.Next)
	slog.InfoContext(ctx, "Supervisor decision", "next", d.Next, "has_message", d.Message != "")
	return d
}

func (r *Router) route(ctx context.Context, msgs []llm.Message) (Decision, error) {
	instruction := prompts.Render(prompts.RouteInstruction, map[string]string{
		"options": strings.Join(r.options, ", "),
	})

	history := llm.SanitizeHistory(msgs)
	req := llm.ChatRequest{
		System:    r.system,
		Messages:  append(history, llm.NewHumanMessage(instruction)),
		Tools:     []llm.Tool{routeTool{options: r.options}},
		ForceTool: RouteTool,
	}

	reply, err := llm.Complete(ctx, r.client, req, llm.CallOptions{
		MaxRetries: r.sysCfg.MaxRetries,
		RetryDelay: time.Duration(r.sysCfg.RetryDelayMs) * time.Millisecond,
		Timeout:    time.Duration(r.sysCfg.LLMTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return Decision{}, err
	}
	llm.LogUsage(ctx, state.NodeSupervisor, reply.Usage)

	for _, tc := range reply.ToolCalls {
		if strings.TrimPrefix(tc.Name, "functions.") == RouteTool {
			return r.parse(tc.Arguments)
		}
	}
	return Decision{}, errNoDecision
}

func (r *Router) parse(raw string) (Decision, error) {
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("malformed route arguments: %w", err)
	}
	d.Message = strings.TrimSpace(d.Message)

	// 提示詞裡有叫模型選 trim_messages，但 enum 沒有；當作 End 處理
	if d.Next == state.NodeTrim {
		d.Next = state.End
	}
	if !slices.Contains(r.options, d.Next) {
		return Decision{}, fmt.Errorf("route next %q is not one of %v", d.Next, r.options)
	}
	return d, nil
}
