package parley

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/models"
	"github.com/parley-chat/parley/tools"
)

func executorWith(t *testing.T, ts ...tools.Tool) *ToolExecutor {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, registry.Register(tool))
	}
	return NewToolExecutor(registry, time.Second)
}

func echoTool() tools.Tool {
	return tools.Tool{
		Declaration: models.FunctionDeclaration{
			Name:        "echo",
			Description: "echoes input",
			Parameters: models.Parameters{
				Type: "object",
				Properties: map[string]interface{}{
					"text": map[string]interface{}{"type": "string"},
				},
				Required: []string{"text"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestExecute_Success(t *testing.T) {
	e := executorWith(t, echoTool())
	result := e.Execute(context.Background(), "echo", `{"text":"hello"}`)
	assert.Equal(t, "hello", result)
}

func TestExecute_ToolNotFound(t *testing.T) {
	e := executorWith(t)
	result := e.Execute(context.Background(), "nope", `{}`)
	assert.Equal(t, "tool not found: nope", result)
}

func TestExecute_InvalidArguments(t *testing.T) {
	e := executorWith(t, echoTool())
	result := e.Execute(context.Background(), "echo", `{not json`)
	assert.True(t, len(result) > 0)
	assert.Contains(t, result, "invalid arguments: ")
}

func TestExecute_MissingRequiredField(t *testing.T) {
	e := executorWith(t, echoTool())
	result := e.Execute(context.Background(), "echo", `{"other":"x"}`)
	assert.Equal(t, "missing field text", result)
}

func TestExecute_HandlerError(t *testing.T) {
	failing := tools.Tool{
		Declaration: models.FunctionDeclaration{
			Name:       "fail",
			Parameters: models.Parameters{Type: "object"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}
	e := executorWith(t, failing)
	result := e.Execute(context.Background(), "fail", `{}`)
	assert.Equal(t, "error executing tool: backend unavailable", result)
}

func TestExecute_HandlerPanicRecovered(t *testing.T) {
	panicking := tools.Tool{
		Declaration: models.FunctionDeclaration{
			Name:       "boom",
			Parameters: models.Parameters{Type: "object"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			panic("exploded")
		},
	}
	e := executorWith(t, panicking)
	result := e.Execute(context.Background(), "boom", `{}`)
	assert.Contains(t, result, "error executing tool: ")
	assert.Contains(t, result, "exploded")
}

func TestExecute_EmptyArgumentsAllowed(t *testing.T) {
	noArgs := tools.Tool{
		Declaration: models.FunctionDeclaration{
			Name:       "ping",
			Parameters: models.Parameters{Type: "object"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "pong", nil
		},
	}
	e := executorWith(t, noArgs)
	assert.Equal(t, "pong", e.Execute(context.Background(), "ping", ""))
}

func TestExecute_Timeout(t *testing.T) {
	slow := tools.Tool{
		Declaration: models.FunctionDeclaration{
			Name:       "slow",
			Parameters: models.Parameters{Type: "object"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(10 * time.Second):
				return "too late", nil
			}
		},
	}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(slow))
	e := NewToolExecutor(registry, 20*time.Millisecond)

	result := e.Execute(context.Background(), "slow", `{}`)
	assert.Contains(t, result, "error executing tool: ")
}
