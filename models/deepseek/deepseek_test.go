package deepseek

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "github.com/parley-chat/parley/models"
)

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func streamToolCalls(t *testing.T, client *Client) []models.ToolCallRequest {
	t.Helper()
	chunks, errs := client.ChatStream(context.Background(),
		[]models.Message{models.TextMessage(models.RoleUser, "hi")}, nil, nil)

	var calls []models.ToolCallRequest
	for chunk := range chunks {
		if len(chunk.ToolCalls) > 0 {
			calls = chunk.ToolCalls
		}
	}
	require.NoError(t, <-errs)
	return calls
}

func TestChatStream_ParallelToolCallsKeptSeparate(t *testing.T) {
	// Two calls interleaved across deltas; fragments are matched by the
	// tool_calls[].index field, not by choice index (which is always 0
	// on a single-choice stream).
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_weather","arguments":"{\"city\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"web_search","arguments":"{\"query\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Berlin\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"lighthouses\"}"}}]}}]}`,
	})
	defer server.Close()

	client := NewClient("deepseek-chat")
	client.BaseURL = server.URL

	calls := streamToolCalls(t, client)
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, `{"city":"Berlin"}`, calls[0].Arguments)
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, "web_search", calls[1].Name)
	assert.Equal(t, `{"query":"lighthouses"}`, calls[1].Arguments)
}

func TestChatStream_SingleToolCallAcrossFragments(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":\"Oslo\"}"}}]}}]}`,
	})
	defer server.Close()

	client := NewClient("deepseek-chat")
	client.BaseURL = server.URL

	calls := streamToolCalls(t, client)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, `{"city":"Oslo"}`, calls[0].Arguments)
}

func TestChatStream_ContentDeltasForwarded(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":" world"}}]}`,
	})
	defer server.Close()

	client := NewClient("deepseek-chat")
	client.BaseURL = server.URL

	chunks, errs := client.ChatStream(context.Background(),
		[]models.Message{models.TextMessage(models.RoleUser, "hi")}, nil, nil)

	var content string
	for chunk := range chunks {
		content += chunk.ContentDelta
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "Hello world", content)
}
