package parley

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parley-chat/parley/tools"
)

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 30 * time.Second

// ToolExecutor runs registered tools on behalf of the agent loop. Every
// failure mode is reported as a textual result rather than an error, so
// the loop can feed it back to the model as an ordinary tool message and
// the model can retry with corrected arguments.
type ToolExecutor struct {
	registry *tools.Registry
	timeout  time.Duration
	logger   *log.Logger
}

// NewToolExecutor creates an executor over the given registry. A zero
// timeout means DefaultToolTimeout.
func NewToolExecutor(registry *tools.Registry, timeout time.Duration) *ToolExecutor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &ToolExecutor{
		registry: registry,
		timeout:  timeout,
		logger:   log.New(os.Stdout, "[EXECUTOR] ", log.LstdFlags),
	}
}

// Execute runs the named tool with the JSON-encoded arguments the model
// produced and returns the textual result. It never returns an error:
// unknown tools, malformed arguments, missing required fields, tool
// failures, panics, and timeouts all come back as readable text.
func (e *ToolExecutor) Execute(ctx context.Context, name string, argsJSON string) string {
	tool, ok := e.registry.Get(name)
	if !ok {
		e.logger.Printf("tool not found: %s", name)
		return fmt.Sprintf("tool not found: %s", name)
	}

	args := map[string]interface{}{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			e.logger.Printf("invalid arguments for %s: %v", name, err)
			return fmt.Sprintf("invalid arguments: %v", err)
		}
	}
	for _, field := range tool.Declaration.Parameters.Required {
		if _, present := args[field]; !present {
			e.logger.Printf("missing required field %s for %s", field, name)
			return fmt.Sprintf("missing field %s", field)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.run(ctx, tool, args)
	if err != nil {
		e.logger.Printf("tool %s failed: %v", name, err)
		return fmt.Sprintf("error executing tool: %v", err)
	}
	return result
}

// run invokes the handler with panic recovery so a misbehaving tool
// cannot take down the conversation turn.
func (e *ToolExecutor) run(ctx context.Context, tool tools.Tool, args map[string]interface{}) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Handler(ctx, args)
}
