package tools

import (
	"context"

	"airose/pkg/api"
)

// HandlerFunc runs a tool on validated arguments and returns its text result.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// Func is an api.Tool backed by a Schema and a HandlerFunc.
type Func struct {
	name        string
	description string
	schema      Schema
	handler     HandlerFunc
}

// NewFunc builds a tool from its metadata and handler.
func NewFunc(name, description string, schema Schema, handler HandlerFunc) *Func {
	return &Func{name: name, description: description, schema: schema, handler: handler}
}

func (f *Func) Name() string                 { return f.name }
func (f *Func) Description() string          { return f.description }
func (f *Func) Parameters() map[string]any   { return f.schema.Properties() }
func (f *Func) RequiredParameters() []string { return f.schema.Required() }

// Validate checks args against the tool schema.
func (f *Func) Validate(args map[string]any) error {
	return f.schema.Validate(args)
}

// Execute implements api.Tool.
func (f *Func) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	text, err := f.handler(ctx, args)
	if err != nil {
		return nil, err
	}
	return api.TextResult(text), nil
}
