package api

import (
	"context"

	"airose/pkg/llm"
)

// Tool defines the structural interface for any capability a responder
// can execute. It includes metadata for prompt injection (JSON Schema)
// and the execution logic itself.
type Tool interface {
	llm.Tool
	// Execute performs the tool logic on already validated arguments.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult encapsulates the outcome of a tool execution.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	// IsError marks a result that reports a failure back to the model.
	IsError bool           `json:"is_error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Text joins every text block of the result.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, b := range r.Content {
		if b.Type == llm.BlockTypeText {
			out += b.Text
		}
	}
	return out
}

// ContentBlock is an atomic data unit within a ToolResult.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextResult builds a single-block successful result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: llm.BlockTypeText, Text: text}}}
}

// ErrorResult builds a single-block failed result.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: llm.BlockTypeText, Text: text}}, IsError: true}
}

// ToolRegistry defines the interface for managing and invoking tools.
type ToolRegistry interface {
	Register(tool Tool) error
	Get(name string) (Tool, bool)
	GetAll() []Tool
	// Invoke validates and runs one call. Failures come back as an error result.
	Invoke(ctx context.Context, call llm.ToolCall, allowed []string) *ToolResult
}
