// Package tools defines the tool capability surface offered to the
// generation provider: named definitions with JSON-schema inputs, an executor
// contract, and a registry binding definitions to handlers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// ErrUnknownTool is returned when execution is requested for a name no
// definition covers.
var ErrUnknownTool = errors.New("unknown tool")

// Definition describes one tool the generation provider may call.
type Definition struct {
	// Name identifies the tool in generation requests and calls.
	Name string

	// Description tells the model when to use the tool.
	Description string

	// InputSchema is the JSON Schema for the tool's input object.
	InputSchema map[string]interface{}
}

// Executor runs tool calls requested by the generation provider. The
// orchestrator treats it as an external collaborator: execution failures are
// reported back into the conversation, not raised as turn failures.
type Executor interface {
	// Execute runs the named tool with the given JSON input and returns
	// its textual result. The scope is the tenant boundary of the turn
	// that requested the call; handlers must confine their actions to it.
	Execute(ctx context.Context, scope tenant.Scope, name string, input json.RawMessage) (string, error)
}

// Handler is the function bound to one tool definition.
type Handler func(ctx context.Context, scope tenant.Scope, input json.RawMessage) (string, error)

// Registry binds tool definitions to handlers and implements Executor.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	defs     map[string]Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		defs:     make(map[string]Definition),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return errors.New("tool definition requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q requires a handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
	return nil
}

// Definitions returns all registered definitions in name order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool within the given tenant scope.
func (r *Registry) Execute(ctx context.Context, scope tenant.Scope, name string, input json.RawMessage) (string, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	return handler(ctx, scope, input)
}
