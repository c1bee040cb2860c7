package parley

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/models"
	"github.com/parley-chat/parley/stores"
	"github.com/parley-chat/parley/tools"
)

// mockModel replays a script of responses; once the script runs out the
// last response repeats.
type mockModel struct {
	script      []models.ChatResponse
	calls       int
	lastTemp    *float64
	lastHistory []models.Message
	closed      int
}

func (m *mockModel) Chat(ctx context.Context, history []models.Message, declarations []models.FunctionDeclaration, temperature *float64) (models.ChatResponse, error) {
	m.lastHistory = history
	m.lastTemp = temperature
	resp := m.script[len(m.script)-1]
	if m.calls < len(m.script) {
		resp = m.script[m.calls]
	}
	m.calls++
	return resp, nil
}

func (m *mockModel) ChatStream(ctx context.Context, history []models.Message, declarations []models.FunctionDeclaration, temperature *float64) (<-chan models.StreamChunk, <-chan error) {
	chunks := make(chan models.StreamChunk)
	errs := make(chan error, 1)
	resp, _ := m.Chat(ctx, history, declarations, temperature)
	go func() {
		defer close(chunks)
		defer close(errs)
		if len(resp.Choices) == 0 {
			return
		}
		msg := resp.Choices[0].Message
		if text := msg.Text(); text != "" {
			chunks <- models.StreamChunk{Role: models.RoleAssistant, ContentDelta: text}
		}
		if msg.HasToolCalls() {
			chunks <- models.StreamChunk{Role: models.RoleAssistant, ToolCalls: msg.ToolCalls}
		}
	}()
	return chunks, errs
}

func (m *mockModel) Close() error {
	m.closed++
	return nil
}

// spyStore counts system prompt rewrites on top of the memory store.
type spyStore struct {
	*stores.MemoryStore
	promptUpdates int
}

func (s *spyStore) UpdateSystemPrompt(id string, content string) error {
	s.promptUpdates++
	return s.MemoryStore.UpdateSystemPrompt(id, content)
}

func textResponse(text string) models.ChatResponse {
	msg := models.TextMessage(models.RoleAssistant, text)
	return models.ChatResponse{Choices: []models.Choice{{Message: msg}}}
}

func toolResponse(callID, name, args string) models.ChatResponse {
	msg := models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCallRequest{
			{ID: callID, Name: name, Arguments: args},
		},
	}
	return models.ChatResponse{Choices: []models.Choice{{Message: msg}}}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Tool{
		Declaration: models.FunctionDeclaration{
			Name:       "lookup",
			Parameters: models.Parameters{Type: "object"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "lookup result", nil
		},
	}))
	return registry
}

func newTestAgent(t *testing.T, model *mockModel, store stores.ConversationStore) *Agent {
	t.Helper()
	agent, err := NewAgent(NewAgentConfig().
		WithModel(model).
		WithStore(store).
		WithRegistry(testRegistry(t)))
	require.NoError(t, err)
	return agent
}

func TestChat_CreatesConversationWithSystemFirst(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("hello")}}
	store := stores.NewMemoryStore()
	agent := newTestAgent(t, model, store)

	resp, err := agent.Chat(context.Background(), "hi", "conv1", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "conv1", resp.ConversationID)
	assert.Equal(t, "hello", resp.Message.Text())
	assert.Nil(t, resp.ToolCall)

	history, err := store.GetHistory("conv1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleSystem, history[0].Role)
	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, "hi", history[1].Text())
	assert.Equal(t, models.RoleAssistant, history[2].Role)
}

func TestChat_GeneratesConversationIDWhenEmpty(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("hello")}}
	agent := newTestAgent(t, model, stores.NewMemoryStore())

	resp, err := agent.Chat(context.Background(), "hi", "", ChatOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestChat_PlainAnswerMakesOneCall(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("done")}}
	agent := newTestAgent(t, model, stores.NewMemoryStore())

	_, err := agent.Chat(context.Background(), "hi", "conv1", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)
}

func TestChat_ToolRoundTrip(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{
		toolResponse("call_1", "lookup", `{}`),
		textResponse("found it"),
	}}
	store := stores.NewMemoryStore()
	agent := newTestAgent(t, model, store)

	resp, err := agent.Chat(context.Background(), "find me a thing", "conv1", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
	assert.Equal(t, "found it", resp.Message.Text())
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "lookup", resp.ToolCall.Name)

	// system, user, assistant(tool call), tool result, assistant(final)
	history, _ := store.GetHistory("conv1")
	require.Len(t, history, 5)
	assert.Equal(t, models.RoleAssistant, history[2].Role)
	assert.True(t, history[2].HasToolCalls())
	assert.Equal(t, models.RoleTool, history[3].Role)
	assert.Equal(t, "call_1", history[3].ToolCallID)
	assert.Equal(t, "lookup result", history[3].Text())
	assert.Equal(t, models.RoleAssistant, history[4].Role)
}

func TestChat_IterationCapBoundsCalls(t *testing.T) {
	// The model asks for a tool on every call; with a cap of 3 the agent
	// makes exactly 4 calls and returns the final response normally.
	model := &mockModel{script: []models.ChatResponse{
		toolResponse("call_1", "lookup", `{}`),
	}}
	agent, err := NewAgent(NewAgentConfig().
		WithModel(model).
		WithStore(stores.NewMemoryStore()).
		WithRegistry(testRegistry(t)).
		WithMaxToolIterations(3))
	require.NoError(t, err)

	resp, err := agent.Chat(context.Background(), "go", "conv1", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, model.calls)
	assert.True(t, resp.Message.HasToolCalls())
}

func TestChat_FormatChangeRewritesSystemPromptOnce(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	store := &spyStore{MemoryStore: stores.NewMemoryStore()}
	agent := newTestAgent(t, model, store)

	_, err := agent.Chat(context.Background(), "first", "conv1", ChatOptions{Format: models.FormatPlain})
	require.NoError(t, err)
	assert.Equal(t, 0, store.promptUpdates)

	_, err = agent.Chat(context.Background(), "second", "conv1", ChatOptions{Format: models.FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, 1, store.promptUpdates)

	history, _ := store.GetHistory("conv1")
	assert.Contains(t, history[0].Text(), jsonFormatInstruction)
	// Prior messages untouched
	assert.Equal(t, "first", history[1].Text())
}

func TestChat_SameFormatDoesNotRewrite(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	store := &spyStore{MemoryStore: stores.NewMemoryStore()}
	agent := newTestAgent(t, model, store)

	for i := 0; i < 3; i++ {
		_, err := agent.Chat(context.Background(), "again", "conv1", ChatOptions{Format: models.FormatMarkdown})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, store.promptUpdates)
}

func TestChat_OmittedSettingsInheritStored(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	store := &spyStore{MemoryStore: stores.NewMemoryStore()}
	agent := newTestAgent(t, model, store)

	settings := &models.CollectionSettings{Mode: models.ModeStepByStep, Enabled: true}
	_, err := agent.Chat(context.Background(), "first", "conv1", ChatOptions{Collection: settings})
	require.NoError(t, err)

	// A follow-up without settings must not strip the mode block.
	_, err = agent.Chat(context.Background(), "second", "conv1", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, store.promptUpdates)
}

func TestChat_SettingsPersistedOnlyWhenEnabled(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	store := stores.NewMemoryStore()
	agent := newTestAgent(t, model, store)

	disabled := &models.CollectionSettings{Mode: models.ModeFreeForm, Enabled: false}
	_, err := agent.Chat(context.Background(), "hi", "conv1", ChatOptions{Collection: disabled})
	require.NoError(t, err)
	stored, _ := store.GetCollectionSettings("conv1")
	assert.Nil(t, stored)

	enabled := &models.CollectionSettings{Mode: models.ModeFreeForm, Enabled: true}
	_, err = agent.Chat(context.Background(), "hi again", "conv1", ChatOptions{Collection: enabled})
	require.NoError(t, err)
	stored, _ = store.GetCollectionSettings("conv1")
	require.NotNil(t, stored)
	assert.Equal(t, models.ModeFreeForm, stored.Mode)
}

func TestChat_MessageIDsAreUnique(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{
		toolResponse("call_1", "lookup", `{}`),
		textResponse("done"),
	}}
	store := stores.NewMemoryStore()
	agent := newTestAgent(t, model, store)

	_, err := agent.Chat(context.Background(), "hi", "conv1", ChatOptions{})
	require.NoError(t, err)

	history, _ := store.GetHistory("conv1")
	seen := map[string]bool{}
	for _, msg := range history {
		require.NotEmpty(t, msg.ID)
		assert.False(t, seen[msg.ID], "duplicate message id %s", msg.ID)
		seen[msg.ID] = true
	}
}

func TestChat_TemperaturePrecedence(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	agent, err := NewAgent(NewAgentConfig().
		WithModel(model).
		WithStore(stores.NewMemoryStore()).
		WithRegistry(testRegistry(t)).
		WithTemperature(0.2))
	require.NoError(t, err)

	_, err = agent.Chat(context.Background(), "hi", "conv1", ChatOptions{})
	require.NoError(t, err)
	require.NotNil(t, model.lastTemp)
	assert.Equal(t, 0.2, *model.lastTemp)

	override := 0.9
	_, err = agent.Chat(context.Background(), "hi", "conv1", ChatOptions{Temperature: &override})
	require.NoError(t, err)
	require.NotNil(t, model.lastTemp)
	assert.Equal(t, 0.9, *model.lastTemp)
}

func TestChat_BlankInputForwarded(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	store := stores.NewMemoryStore()
	agent := newTestAgent(t, model, store)

	_, err := agent.Chat(context.Background(), "", "conv1", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)

	history, _ := store.GetHistory("conv1")
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, "", history[1].Text())
}

func TestAgent_CloseIdempotent(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{textResponse("ok")}}
	agent := newTestAgent(t, model, stores.NewMemoryStore())

	require.NoError(t, agent.Close())
	require.NoError(t, agent.Close())
	assert.Equal(t, 1, model.closed)
}

func TestChatStream_DeliversChunksAndPersists(t *testing.T) {
	model := &mockModel{script: []models.ChatResponse{
		toolResponse("call_1", "lookup", `{}`),
		textResponse("streamed answer"),
	}}
	store := stores.NewMemoryStore()
	agent := newTestAgent(t, model, store)

	chunks, errs := agent.ChatStream(context.Background(), "hi", "conv1", ChatOptions{})

	var content string
	var sawDone bool
	for chunk := range chunks {
		if chunk.Done {
			sawDone = true
			continue
		}
		content += chunk.ContentDelta
	}
	require.NoError(t, <-errs)
	assert.True(t, sawDone)
	assert.Equal(t, "streamed answer", content)
	assert.Equal(t, 2, model.calls)

	history, _ := store.GetHistory("conv1")
	require.Len(t, history, 5)
	assert.Equal(t, "streamed answer", history[4].Text())
}
