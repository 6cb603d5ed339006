// Package registry holds the declarative tool set.
//
// Tools register once at startup; the registry is immutable afterwards and
// safe for concurrent reads without locks. Input schemas compile at
// registration so tools/call validates arguments before the handler runs.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
)

// Category groups tools by the store they touch.
type Category string

const (
	CategoryHistory Category = "history"
	CategoryMemory  Category = "memory"
	CategoryGraph   Category = "graph"
)

// Handler executes a tool call. args is the raw JSON arguments object,
// already validated against the input schema. The returned value marshals
// into the text content of the tool result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Registration declares one tool. Immutable after server start.
type Registration struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	OutputShape json.RawMessage
	Category    Category
	Permissions []string
	Timeout     time.Duration
	Retryable   bool
	Handler     Handler
}

// Tool is a registered tool with its compiled schema.
type Tool struct {
	Registration
	schema *jsonschema.Schema
}

// ValidateArgs checks raw arguments against the input schema.
func (t *Tool) ValidateArgs(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fault.Wrap(fault.SchemaInvalid, err, "arguments are not valid JSON")
	}
	if err := t.schema.Validate(inst); err != nil {
		return fault.Wrap(fault.SchemaInvalid, err, "arguments do not match schema for %s", t.Name)
	}
	return nil
}

// Registry maps tool names to tools. Built once, then read-only.
type Registry struct {
	tools map[string]*Tool
	names []string
}

// New compiles every registration and returns the frozen registry.
func New(regs ...Registration) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(regs))}
	for _, reg := range regs {
		if reg.Name == "" {
			return nil, fmt.Errorf("tool registration missing name")
		}
		if reg.Handler == nil {
			return nil, fmt.Errorf("tool %s: handler is required", reg.Name)
		}
		if _, dup := r.tools[reg.Name]; dup {
			return nil, fmt.Errorf("tool %s registered twice", reg.Name)
		}

		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(reg.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("tool %s: schema is not valid JSON: %w", reg.Name, err)
		}
		url := "mcp:///tools/" + reg.Name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("tool %s: adding schema resource: %w", reg.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("tool %s: compiling schema: %w", reg.Name, err)
		}

		r.tools[reg.Name] = &Tool{Registration: reg, schema: schema}
		r.names = append(r.names, reg.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in stable sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// List returns tools in stable name order, for tools/list.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name])
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int { return len(r.tools) }
