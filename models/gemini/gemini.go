package gemini

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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	models "github.com/parley-chat/parley/models"
)

const (
	BaseURL      = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel = "gemini-2.0-flash"

	defaultRequestTimeout = 120 * time.Second
)

func init() {
	// Load .env file if it exists (not present in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Client talks to the Gemini generateContent API over plain HTTP.
type Client struct {
	Model     string // model identifier, defaults to gemini-2.0-flash
	APIKeyEnv string // optional env var name for the API key, defaults to GEMINI_API_KEY

	httpClient *http.Client
}

// NewClient creates a Gemini client for the given model. An empty model
// name selects DefaultModel.
func NewClient(model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		Model:      model,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Chat performs one blocking generateContent call over the history.
func (c *Client) Chat(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (models.ChatResponse, error) {
	body, err := json.Marshal(buildRequest(history, tools, temperature))
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.send(ctx, "generateContent", "", body)
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

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return models.ChatResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return convertResponse(gen), nil
}

// ChatStream performs one streaming generateContent call using the SSE
// variant of the endpoint. Text deltas are forwarded as they arrive;
// function calls are collected and delivered on a final chunk.
func (c *Client) ChatStream(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (<-chan models.StreamChunk, <-chan error) {
	chunks := make(chan models.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(buildRequest(history, tools, temperature))
		if err != nil {
			errs <- fmt.Errorf("failed to marshal request body: %w", err)
			return
		}

		resp, err := c.send(ctx, "streamGenerateContent", "alt=sse", body)
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

		var toolCalls []models.ToolCallRequest
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				errs <- models.WrapTransportError("gemini", fmt.Errorf("error reading stream: %w", err))
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var gen generateResponse
			if err := json.Unmarshal([]byte(data), &gen); err != nil {
				log.Printf("Warning: failed to unmarshal stream chunk: %v, data: %s", err, data)
				continue
			}
			for _, cand := range gen.Candidates {
				for _, p := range cand.Content.Parts {
					if p.Text != "" {
						chunks <- models.StreamChunk{
							Role:         models.RoleAssistant,
							ContentDelta: p.Text,
						}
					}
					if p.FunctionCall != nil {
						toolCalls = append(toolCalls, convertFunctionCall(*p.FunctionCall))
					}
				}
			}
		}
		if len(toolCalls) > 0 {
			chunks <- models.StreamChunk{Role: models.RoleAssistant, ToolCalls: toolCalls}
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

func (c *Client) send(ctx context.Context, method, query string, body []byte) (*http.Response, error) {
	apiKeyEnv := c.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "GEMINI_API_KEY"
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	endpoint := fmt.Sprintf("%s/%s:%s?key=%s", BaseURL, model, method, os.Getenv(apiKeyEnv))
	if query != "" {
		endpoint += "&" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, models.WrapTransportError("gemini", err)
	}
	return resp, nil
}

func (c *Client) apiError(status int, body []byte) error {
	apiErr := &models.APIError{
		Provider:   "gemini",
		StatusCode: status,
		Body:       string(body),
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
	}
	log.Printf("Gemini API error response (status %d): %s", status, string(body))
	return apiErr
}

func buildRequest(history []models.Message, tools []models.FunctionDeclaration, temperature *float64) generateRequest {
	req := generateRequest{
		Contents: convertHistory(history),
	}
	if len(tools) > 0 {
		req.Tools = []toolDeclarations{{FunctionDeclarations: convertDeclarations(tools)}}
	}
	if temperature != nil {
		req.GenerationConfig = &generationConfig{Temperature: temperature}
	}
	if system := extractSystemPrompt(history); system != "" {
		req.SystemInstruction = &systemInstruction{Parts: []textPart{{Text: system}}}
	}
	return req
}

func extractSystemPrompt(history []models.Message) string {
	if len(history) > 0 && history[0].Role == models.RoleSystem {
		return history[0].Text()
	}
	return ""
}

// convertHistory maps the neutral history onto Gemini contents. Gemini
// has no tool-call ids, so tool results are matched back to the call
// name via the ids recorded on earlier assistant messages.
func convertHistory(history []models.Message) []content {
	callNames := make(map[string]string)
	out := make([]content, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			// Carried via systemInstruction instead.
		case models.RoleUser:
			out = append(out, content{
				Role:  "user",
				Parts: []part{{Text: msg.Text()}},
			})
		case models.RoleAssistant:
			parts := []part{}
			if text := msg.Text(); text != "" {
				parts = append(parts, part{Text: text})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				args := map[string]interface{}{}
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					log.Printf("Warning: failed to unmarshal tool call arguments for %s: %v", call.Name, err)
				}
				parts = append(parts, part{FunctionCall: &functionCall{Name: call.Name, Args: args}})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, content{Role: "model", Parts: parts})
		case models.RoleTool:
			name := callNames[msg.ToolCallID]
			out = append(out, content{
				Role: "user",
				Parts: []part{{FunctionResponse: &functionResponse{
					Name:     name,
					Response: map[string]interface{}{"result": msg.Text()},
				}}},
			})
		}
	}
	return out
}

// convertFunctionCall maps a Gemini function call to the neutral shape,
// generating a call id since Gemini does not assign one.
func convertFunctionCall(call functionCall) models.ToolCallRequest {
	argsBytes, err := json.Marshal(call.Args)
	if err != nil {
		log.Printf("Warning: failed to marshal function call arguments for %s: %v", call.Name, err)
		argsBytes = []byte("{}")
	}
	return models.ToolCallRequest{
		ID:        "call_" + uuid.New().String(),
		Name:      call.Name,
		Arguments: string(argsBytes),
	}
}

func convertResponse(gen generateResponse) models.ChatResponse {
	resp := models.ChatResponse{}
	if gen.UsageMetadata != nil {
		resp.Usage = &models.Usage{
			PromptTokens:     gen.UsageMetadata.PromptTokenCount,
			CompletionTokens: gen.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gen.UsageMetadata.TotalTokenCount,
		}
	}
	for _, cand := range gen.Candidates {
		msg := models.Message{Role: models.RoleAssistant}
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				text.WriteString(p.Text)
			}
			if p.FunctionCall != nil {
				msg.ToolCalls = append(msg.ToolCalls, convertFunctionCall(*p.FunctionCall))
			}
		}
		if text.Len() > 0 || len(msg.ToolCalls) == 0 {
			s := text.String()
			msg.Content = &s
		}
		choice := models.Choice{Message: msg}
		if cand.FinishReason != "" {
			reason := cand.FinishReason
			choice.FinishReason = &reason
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp
}
