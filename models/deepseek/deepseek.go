package deepseek

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	models "github.com/parley-chat/parley/models"
)

const (
	DeepSeekBaseURL = "https://api.deepseek.com/chat/completions"
	DefaultModel    = "deepseek-chat"

	// Hosted API: bounded request timeout so a stuck call surfaces as a
	// TimeoutError instead of hanging the turn.
	defaultRequestTimeout = 120 * time.Second
)

func init() {
	// Load .env file if it exists (not present in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Client talks to the DeepSeek chat-completions API (OpenAI-compatible).
type Client struct {
	Model     string // model identifier, defaults to deepseek-chat
	BaseURL   string // optional custom endpoint
	APIKeyEnv string // optional env var name for the API key, defaults to DEEPSEEK_API_KEY
	MaxTokens *int
	TopP      *float64

	httpClient *http.Client
}

// NewClient creates a DeepSeek client for the given model. An empty
// model name selects DefaultModel.
func NewClient(model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		Model:      model,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Chat performs one blocking chat completion over the history.
func (c *Client) Chat(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (models.ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(history, tools, temperature, false))
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.send(ctx, body)
	if err != nil {
		return models.ChatResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.ChatResponse{}, c.apiError(resp.StatusCode, raw)
	}

	var completion ChatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return models.ChatResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return convertResponse(completion), nil
}

// ChatStream performs one streaming chat completion. Content deltas are
// forwarded as they arrive; tool calls are accumulated across chunks and
// delivered on the final chunk.
func (c *Client) ChatStream(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (<-chan models.StreamChunk, <-chan error) {
	chunks := make(chan models.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(c.buildRequest(history, tools, temperature, true))
		if err != nil {
			errs <- fmt.Errorf("failed to marshal request body: %w", err)
			return
		}

		resp, err := c.send(ctx, body)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			errs <- c.apiError(resp.StatusCode, raw)
			return
		}

		// Tool call fragments arrive spread over many chunks, keyed by
		// index; arguments are concatenated until the stream ends.
		accumulator := make(map[int]*ToolCall)
		flush := func() {
			if len(accumulator) == 0 {
				return
			}
			indices := make([]int, 0, len(accumulator))
			for idx := range accumulator {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			calls := make([]models.ToolCallRequest, 0, len(indices))
			for _, idx := range indices {
				tc := accumulator[idx]
				calls = append(calls, models.ToolCallRequest{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			chunks <- models.StreamChunk{Role: models.RoleAssistant, ToolCalls: calls}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					flush()
					return
				}
				errs <- models.WrapTransportError("deepseek", fmt.Errorf("error reading stream: %w", err))
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				flush()
				return
			}

			var streamResp StreamResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				log.Printf("Warning: failed to unmarshal stream chunk: %v, data: %s", err, data)
				continue
			}

			for _, choice := range streamResp.Choices {
				if choice.Delta == nil {
					continue
				}
				if choice.Delta.Content != nil && *choice.Delta.Content != "" {
					chunks <- models.StreamChunk{
						Role:         models.RoleAssistant,
						ContentDelta: *choice.Delta.Content,
					}
				}
				for _, toolCall := range choice.Delta.ToolCalls {
					existing, ok := accumulator[toolCall.Index]
					if !ok {
						fragment := toolCall
						accumulator[toolCall.Index] = &fragment
						continue
					}
					// Later fragments carry only the next argument slice;
					// id and name arrive on the first one.
					if existing.ID == "" {
						existing.ID = toolCall.ID
					}
					if existing.Function.Name == "" {
						existing.Function.Name = toolCall.Function.Name
					}
					existing.Function.Arguments += toolCall.Function.Arguments
				}
			}
		}
	}()

	return chunks, errs
}

// Close releases idle connections held by the HTTP client.
func (c *Client) Close() error {
	c.client().CloseIdleConnections()
	return nil
}

func (c *Client) client() *http.Client {
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return c.httpClient
}

func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DeepSeekBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	apiKeyEnv := c.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "DEEPSEEK_API_KEY"
	}
	req.Header.Set("Authorization", "Bearer "+os.Getenv(apiKeyEnv))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, models.WrapTransportError("deepseek", err)
	}
	return resp, nil
}

// apiError turns a non-200 response into an APIError, preferring the
// structured message when the body parses.
func (c *Client) apiError(status int, body []byte) error {
	apiErr := &models.APIError{
		Provider:   "deepseek",
		StatusCode: status,
		Body:       string(body),
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	log.Printf("DeepSeek API error response (status %d): %s", status, string(body))
	return apiErr
}

func (c *Client) buildRequest(history []models.Message, tools []models.FunctionDeclaration, temperature *float64, stream bool) ChatCompletionRequest {
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	request := ChatCompletionRequest{
		Model:       model,
		Messages:    convertHistory(history),
		Stream:      stream,
		Temperature: temperature,
		MaxTokens:   c.MaxTokens,
		TopP:        c.TopP,
	}
	if len(tools) > 0 {
		request.Tools = ConvertTools(tools)
		request.ToolChoice = "auto"
	}
	return request
}

// convertHistory maps the neutral history onto the wire format. Roles
// already match the OpenAI naming, so only tool calls need translating.
func convertHistory(history []models.Message) []Message {
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		wire := Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, wire)
	}
	return out
}

func convertResponse(completion ChatCompletionResponse) models.ChatResponse {
	resp := models.ChatResponse{}
	if completion.Usage != nil {
		resp.Usage = &models.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}
	for _, choice := range completion.Choices {
		msg := models.Message{
			Role:    models.RoleAssistant,
			Content: choice.Message.Content,
		}
		for _, toolCall := range choice.Message.ToolCalls {
			if toolCall.Type != "function" {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCallRequest{
				ID:        toolCall.ID,
				Name:      toolCall.Function.Name,
				Arguments: toolCall.Function.Arguments,
			})
		}
		resp.Choices = append(resp.Choices, models.Choice{
			Message:      msg,
			FinishReason: choice.FinishReason,
		})
	}
	return resp
}
