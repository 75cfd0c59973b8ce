package tools

import (
	"errors"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// Argument types understood by the validator. They mirror JSON-schema names.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

var (
	// ErrUnknownTool is returned for a call naming an unregistered or disallowed tool.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgs is returned when arguments do not satisfy the tool schema.
	ErrInvalidArgs = errors.New("invalid tool arguments")
	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("duplicate tool")
)

// Field describes one named argument of a tool.
type Field struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// Schema is the ordered argument list of a tool.
type Schema []Field

// Properties renders the JSON-schema "properties" object.
func (s Schema) Properties() map[string]any {
	props := make(map[string]any, len(s))
	for _, f := range s {
		p := map[string]any{"type": f.Type}
		if f.Description != "" {
			p["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			p["enum"] = f.Enum
		}
		props[f.Name] = p
	}
	return props
}

// Required lists the names of mandatory fields.
func (s Schema) Required() []string {
	var req []string
	for _, f := range s {
		if f.Required {
			req = append(req, f.Name)
		}
	}
	return req
}

// Validate checks args against the schema. Unknown fields and missing
// required fields are checked here; each value is checked against its
// OpenAPI field schema (type, enum, non-empty required strings). Every
// problem is reported, sorted.
func (s Schema) Validate(args map[string]any) error {
	known := make(map[string]Field, len(s))
	for _, f := range s {
		known[f.Name] = f
	}

	var problems []string
	for name := range args {
		if _, ok := known[name]; !ok {
			problems = append(problems, fmt.Sprintf("unexpected field %q", name))
		}
	}
	for _, f := range s {
		v, ok := args[f.Name]
		if !ok || v == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			problems = append(problems, msg)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %v", ErrInvalidArgs, problems)
}

// fieldSchema renders one field as an OpenAPI schema for value checks.
func fieldSchema(f Field) *openapi3.Schema {
	switch f.Type {
	case TypeString:
		sch := openapi3.NewStringSchema()
		if f.Required {
			sch = sch.WithMinLength(1)
		}
		if len(f.Enum) > 0 {
			values := make([]any, len(f.Enum))
			for i, e := range f.Enum {
				values[i] = e
			}
			sch = sch.WithEnum(values...)
		}
		return sch
	case TypeNumber:
		return openapi3.NewFloat64Schema()
	case TypeInteger:
		return openapi3.NewIntegerSchema()
	case TypeBoolean:
		return openapi3.NewBoolSchema()
	}
	return nil
}

func checkType(f Field, v any) string {
	sch := fieldSchema(f)
	if sch == nil {
		return ""
	}
	err := sch.VisitJSON(v)
	if err == nil {
		return ""
	}

	var se *openapi3.SchemaError
	if !errors.As(err, &se) {
		return fmt.Sprintf("field %q: %v", f.Name, err)
	}
	switch se.SchemaField {
	case "type":
		article := "a"
		if f.Type == TypeInteger {
			article = "an"
		}
		return fmt.Sprintf("field %q must be %s %s", f.Name, article, f.Type)
	case "minLength":
		return fmt.Sprintf("field %q must not be empty", f.Name)
	case "enum":
		return fmt.Sprintf("field %q must be one of %v", f.Name, f.Enum)
	}
	return fmt.Sprintf("field %q: %s", f.Name, se.Reason)
}
