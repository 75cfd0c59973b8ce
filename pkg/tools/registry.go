package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"airose/pkg/api"
	"airose/pkg/llm"
	"airose/pkg/monitor"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Re-export types from api package via aliases
type Tool = api.Tool
type ToolResult = api.ToolResult

// validator is implemented by tools that carry their own argument schema.
type validator interface {
	Validate(args map[string]any) error
}

// ToolRegistry acts as a central inventory for all tools available to responders.
type ToolRegistry struct {
	mu    sync.RWMutex    // Protects concurrent access to the tools map
	tools map[string]Tool // Internal map of tool name to implementation
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Names must be unique.
func (tr *ToolRegistry) Register(tool Tool) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.tools[tool.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name())
	}
	tr.tools[tool.Name()] = tool
	return nil
}

// MustRegister registers tools and panics on a duplicate name.
func (tr *ToolRegistry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := tr.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a tool by name
func (tr *ToolRegistry) Get(name string) (Tool, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tool, ok := tr.tools[name]
	return tool, ok
}

// GetAll returns all registered tools sorted by name
func (tr *ToolRegistry) GetAll() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tools := make([]Tool, 0, len(tr.tools))
	for _, tool := range tr.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Subset returns the named tools in the given order.
func (tr *ToolRegistry) Subset(names ...string) ([]Tool, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		tool, ok := tr.tools[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		out = append(out, tool)
	}
	return out, nil
}

// Invoke validates and executes one tool call. It never returns nil and never
// fails: unknown tools, malformed or invalid arguments, handler errors and
// panics all come back as an error result for the model to read.
// A nil allowed list permits every registered tool.
func (tr *ToolRegistry) Invoke(ctx context.Context, call llm.ToolCall, allowed []string) (res *ToolResult) {
	name := strings.TrimPrefix(call.Name, "functions.")
	start := time.Now()
	outcome := "ok"

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "tool", name, "error", r)
			res = api.ErrorResult("Error: internal tool failure")
			outcome = "panic"
		}
		monitor.ObserveToolCall(name, outcome, time.Since(start))
	}()

	if allowed != nil && !slices.Contains(allowed, name) {
		outcome = "rejected"
		slog.WarnContext(ctx, "Tool not offered to this responder", "tool", name)
		return api.ErrorResult(fmt.Sprintf("Error: %v %q", ErrUnknownTool, call.Name))
	}

	tool, ok := tr.Get(name)
	if !ok {
		outcome = "rejected"
		slog.ErrorContext(ctx, "Unknown tool call", "name", call.Name)
		return api.ErrorResult(fmt.Sprintf("Error: %v %q", ErrUnknownTool, call.Name))
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			outcome = "rejected"
			slog.WarnContext(ctx, "Failed to parse tool args", "tool", name, "error", err)
			return api.ErrorResult(fmt.Sprintf("Error: %v: arguments are not a JSON object: %v", ErrInvalidArgs, err))
		}
	}

	if v, ok := tool.(validator); ok {
		if err := v.Validate(args); err != nil {
			outcome = "rejected"
			slog.WarnContext(ctx, "Tool args rejected", "tool", name, "error", err)
			return api.ErrorResult(fmt.Sprintf("Error: %v", err))
		}
	}

	slog.InfoContext(ctx, "Executing tool", "name", name, "args", args)
	result, err := tool.Execute(ctx, args)
	if err != nil {
		outcome = "error"
		slog.ErrorContext(ctx, "Tool execution error", "name", name, "error", err)
		return api.ErrorResult(fmt.Sprintf("Error: tool execution failed: %v", err))
	}
	if result != nil && result.IsError {
		outcome = "error"
	}
	// 空字串的 text block 也算沒有輸出，不要把空白訊息送回模型
	if result == nil || strings.TrimSpace(result.Text()) == "" {
		if result != nil && result.IsError {
			return api.ErrorResult("(No output)")
		}
		return api.TextResult("(No output)")
	}
	return result
}
