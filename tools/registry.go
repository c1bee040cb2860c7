package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-chat/parley/models"
)

// Handler executes a tool invocation. args is the decoded JSON arguments
// object produced by the model. The returned string is fed back into the
// conversation verbatim as the tool result.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool pairs a function declaration with its handler. The declaration is
// what the model sees; the handler is what runs.
type Tool struct {
	Declaration models.FunctionDeclaration
	Handler     Handler
}

// Registry is an explicit registration table mapping tool names to
// handlers. It is populated at process start and read-only during a
// turn; all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Registering an unnamed tool, a
// tool without a handler, or a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	if t.Declaration.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Declaration.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Declaration.Name]; exists {
		return fmt.Errorf("tool already registered: %s", t.Declaration.Name)
	}
	r.tools[t.Declaration.Name] = t
	r.order = append(r.order, t.Declaration.Name)
	return nil
}

// MustRegister is Register for process-start wiring, panicking on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Declarations returns the function declarations in registration order,
// ready to hand to an LLM backend.
func (r *Registry) Declarations() []models.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Declaration)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// DefaultRegistry returns a registry populated with the built-in tools.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(WeatherTool())
	r.MustRegister(WebSearchTool())
	r.MustRegister(GenerateImageTool())
	return r
}
