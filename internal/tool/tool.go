// Package tool implements the Tool Registry & Dispatch component (C3):
// tool definitions, schema generation, and the dispatch contract that
// turns a model-produced tool call into a single string result, never
// propagating an error up into the reasoning loop.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/executive-assistant/ken/internal/domain"
)

// CallContext carries the per-request identity/workspace values every
// handler needs to resolve storage, mirroring the teacher's
// pkg/tool.Context pattern but narrowed to this runtime's fields.
type CallContext struct {
	context.Context
	WorkspaceID string
	ThreadID    string
	UserID      string
	Channel     string
}

// Handler executes a tool with already-validated arguments and returns the
// result content as a single string. Handlers must never panic or return a
// multi-line trace; the dispatcher enforces the error boundary regardless,
// but handlers are expected to return (content, nil) or (_, err) cleanly.
type Handler func(cc CallContext, args map[string]any) (string, error)

// Tool is {name, description, args_schema, handler} per spec.md §4.3.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
	// Internal marks a tool that exists for document parsing / observer
	// use only and is not advertised to the model (mirrors the teacher's
	// ToolEntry.Internal flag).
	Internal bool
}

// SchemaFor reflects a Go struct type into the map[string]any JSON schema
// shape the LLM providers expect, grounded on the teacher's
// pkg/tool/functiontool/schema.go generateSchema helper.
func SchemaFor[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal schema: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, fmt.Errorf("tool: unmarshal schema: %w", err)
	}
	delete(asMap, "$schema")
	delete(asMap, "$id")
	return asMap, nil
}

// Definition is the wire shape handed to an LLM provider's function-calling API.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToDefinition converts t to its LLM-facing Definition.
func ToDefinition(t Tool) Definition {
	return Definition{Name: t.Name, Description: t.Description, Parameters: t.Schema}
}

// toResult renders domain.ToolResult from a dispatch outcome, used by the
// reasoning loop to append tool messages to history.
func toResult(callID, content, errMsg string) domain.ToolResult {
	return domain.ToolResult{ToolCallID: callID, Content: content, Error: errMsg}
}
