package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	models "github.com/parley-chat/parley/models"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.1:latest"

	// Local backends load models on first use, which can take minutes.
	defaultRequestTimeout = 15 * time.Minute
)

// Client talks to a local Ollama server through the official api
// package.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates an Ollama client. Empty arguments select the local
// default server and model.
func NewClient(baseURL, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	httpClient := &http.Client{Timeout: defaultRequestTimeout}
	return &Client{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
	}, nil
}

// Chat performs one blocking completion over the history.
func (c *Client) Chat(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (models.ChatResponse, error) {
	req := c.buildRequest(history, tools, temperature, false)

	var final api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return models.ChatResponse{}, models.WrapTransportError("ollama", err)
	}
	return convertResponse(final), nil
}

// ChatStream performs one streaming completion. Ollama delivers tool
// calls complete on their chunk, so no cross-chunk accumulation is
// needed; they are forwarded on a final tool-call chunk after the
// content ends.
func (c *Client) ChatStream(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (<-chan models.StreamChunk, <-chan error) {
	chunks := make(chan models.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req := c.buildRequest(history, tools, temperature, true)
		var toolCalls []models.ToolCallRequest

		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				chunks <- models.StreamChunk{
					Role:         models.RoleAssistant,
					ContentDelta: resp.Message.Content,
				}
			}
			if len(resp.Message.ToolCalls) > 0 {
				toolCalls = append(toolCalls, convertToolCalls(resp.Message.ToolCalls)...)
			}
			return nil
		})
		if err != nil {
			errs <- models.WrapTransportError("ollama", err)
			return
		}
		if len(toolCalls) > 0 {
			chunks <- models.StreamChunk{Role: models.RoleAssistant, ToolCalls: toolCalls}
		}
	}()

	return chunks, errs
}

// Close is a no-op; the api client holds no persistent connections
// beyond the HTTP pool.
func (c *Client) Close() error {
	return nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.client.List(ctx)
	return err
}

func (c *Client) buildRequest(history []models.Message, tools []models.FunctionDeclaration, temperature *float64, stream bool) *api.ChatRequest {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: convertHistory(history),
		Tools:    convertTools(tools),
		Stream:   &stream,
	}
	if temperature != nil {
		req.Options = map[string]interface{}{"temperature": *temperature}
	}
	return req
}

func convertHistory(history []models.Message) []api.Message {
	out := make([]api.Message, 0, len(history))
	for _, msg := range history {
		wire := api.Message{
			Role:    msg.Role,
			Content: msg.Text(),
		}
		for _, call := range msg.ToolCalls {
			args := api.ToolCallFunctionArguments{}
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				log.Printf("Warning: failed to unmarshal tool call arguments for %s: %v", call.Name, err)
			}
			wire.ToolCalls = append(wire.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      call.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, wire)
	}
	return out
}

func convertTools(declarations []models.FunctionDeclaration) []api.Tool {
	tools := make([]api.Tool, 0, len(declarations))
	for _, fd := range declarations {
		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  convertParameters(fd.Parameters),
			},
		})
	}
	return tools
}

func convertParameters(params models.Parameters) api.ToolFunctionParameters {
	out := api.ToolFunctionParameters{
		Type:       params.Type,
		Required:   params.Required,
		Properties: make(map[string]api.ToolProperty),
	}
	for name, value := range params.Properties {
		out.Properties[name] = convertProperty(value)
	}
	return out
}

func convertProperty(value interface{}) api.ToolProperty {
	prop := api.ToolProperty{}
	propMap, ok := value.(map[string]interface{})
	if !ok {
		return prop
	}
	if typeVal, ok := propMap["type"].(string); ok {
		prop.Type = api.PropertyType{typeVal}
	}
	if desc, ok := propMap["description"].(string); ok {
		prop.Description = desc
	}
	if enumVal, ok := propMap["enum"].([]interface{}); ok {
		prop.Enum = enumVal
	}
	if items, ok := propMap["items"]; ok {
		prop.Items = items
	}
	return prop
}

// convertToolCalls maps Ollama tool calls to the neutral shape. Ollama
// does not assign call ids, so one is generated to key the tool result.
func convertToolCalls(calls []api.ToolCall) []models.ToolCallRequest {
	out := make([]models.ToolCallRequest, 0, len(calls))
	for _, call := range calls {
		argsBytes, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			log.Printf("Warning: failed to marshal tool call arguments for %s: %v", call.Function.Name, err)
			argsBytes = []byte("{}")
		}
		out = append(out, models.ToolCallRequest{
			ID:        "call_" + uuid.New().String(),
			Name:      call.Function.Name,
			Arguments: string(argsBytes),
		})
	}
	return out
}

func convertResponse(resp api.ChatResponse) models.ChatResponse {
	msg := models.Message{Role: models.RoleAssistant}
	if resp.Message.Content != "" || len(resp.Message.ToolCalls) == 0 {
		content := resp.Message.Content
		msg.Content = &content
	}
	msg.ToolCalls = convertToolCalls(resp.Message.ToolCalls)
	if len(msg.ToolCalls) == 0 {
		msg.ToolCalls = nil
	}

	out := models.ChatResponse{
		Choices: []models.Choice{{Message: msg}},
	}
	if resp.DoneReason != "" {
		reason := resp.DoneReason
		out.Choices[0].FinishReason = &reason
	}
	if resp.Metrics.PromptEvalCount > 0 || resp.Metrics.EvalCount > 0 {
		out.Usage = &models.Usage{
			PromptTokens:     resp.Metrics.PromptEvalCount,
			CompletionTokens: resp.Metrics.EvalCount,
			TotalTokens:      resp.Metrics.PromptEvalCount + resp.Metrics.EvalCount,
		}
	}
	return out
}
