package parley

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/models"
	"github.com/parley-chat/parley/stores"
	"github.com/parley-chat/parley/tools"
)

// ChatModel is the LLM backend abstraction. Implementations translate
// the neutral message history and tool declarations into their vendor
// wire format and back.
type ChatModel interface {
	// Chat performs one blocking completion over the full history.
	Chat(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (models.ChatResponse, error)
	// ChatStream performs one completion, delivering incremental chunks.
	// The chunk channel is closed after the final chunk; at most one
	// error is sent on the error channel.
	ChatStream(ctx context.Context, history []models.Message, tools []models.FunctionDeclaration, temperature *float64) (<-chan models.StreamChunk, <-chan error)
	// Close releases any connections held by the backend.
	Close() error
}

// ChatOptions carries the per-turn knobs of a Chat call.
type ChatOptions struct {
	Format      models.ResponseFormat
	Collection  *models.CollectionSettings
	Temperature *float64
}

// Agent orchestrates conversational turns: it keeps the system prompt
// current, appends the user message, calls the model, executes requested
// tools, and feeds results back until the model answers in plain text or
// the iteration cap is hit. Every message is persisted through the store
// as it is produced. An Agent is safe for concurrent use across
// different conversation ids; concurrent turns on the same id are
// serialized only at the store level.
type Agent struct {
	model     ChatModel
	store     stores.ConversationStore
	registry  *tools.Registry
	executor  *ToolExecutor
	maxIter   int
	temp      *float64
	logger    *log.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewAgent builds an Agent from the configuration. The model is
// required; everything else falls back to the configuration defaults.
func NewAgent(config *AgentConfig) (*Agent, error) {
	if config == nil {
		config = NewAgentConfig()
	}
	if config.Model == nil {
		return nil, fmt.Errorf("agent requires a chat model")
	}
	maxIter := config.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}
	registry := config.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}
	store := config.Store
	if store == nil {
		store = stores.NewMemoryStore()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[AGENT] ", log.LstdFlags)
	}
	return &Agent{
		model:    config.Model,
		store:    store,
		registry: registry,
		executor: NewToolExecutor(registry, config.ToolTimeout),
		maxIter:  maxIter,
		temp:     config.Temperature,
		logger:   logger,
	}, nil
}

// Chat runs one conversational turn and returns the final assistant
// message. conversationID may be empty, in which case a new conversation
// is created under a generated id (returned in the response). Blank user
// text is forwarded to the model as-is.
func (a *Agent) Chat(ctx context.Context, userText, conversationID string, opts ChatOptions) (*models.AgentResponse, error) {
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	if opts.Format == "" {
		opts.Format = models.FormatPlain
	}

	if err := a.ensureConversation(conversationID, opts); err != nil {
		return nil, err
	}

	userMsg := models.TextMessage(models.RoleUser, userText)
	userMsg.ID = uuid.New().String()
	if err := a.store.AddMessage(conversationID, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	temperature := opts.Temperature
	if temperature == nil {
		temperature = a.temp
	}
	declarations := a.registry.Declarations()

	history, err := a.store.GetHistory(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	resp, err := a.model.Chat(ctx, history, declarations, temperature)
	if err != nil {
		return nil, err
	}

	var firstToolCall *models.ToolCallInfo
	for iter := 0; iter < a.maxIter && responseHasToolCalls(resp); iter++ {
		assistant := choiceMessage(resp)
		if err := a.store.AddMessage(conversationID, assistant); err != nil {
			return nil, fmt.Errorf("failed to persist assistant message: %w", err)
		}
		if firstToolCall == nil {
			tc := assistant.ToolCalls[0]
			firstToolCall = &models.ToolCallInfo{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}

		results := make([]models.Message, 0, len(assistant.ToolCalls))
		for _, call := range assistant.ToolCalls {
			a.logger.Printf("executing tool %s for conversation %s", call.Name, conversationID)
			result := a.executor.Execute(ctx, call.Name, call.Arguments)
			msg := models.ToolResultMessage(call.ID, result)
			msg.ID = uuid.New().String()
			results = append(results, msg)
		}
		if err := a.store.AddMessages(conversationID, results); err != nil {
			return nil, fmt.Errorf("failed to persist tool results: %w", err)
		}

		history, err = a.store.GetHistory(conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		resp, err = a.model.Chat(ctx, history, declarations, temperature)
		if err != nil {
			return nil, err
		}
	}

	// The final response is appended and returned even when the cap was
	// hit with tool calls still pending; the next turn's sanitized
	// replay drops the unanswered calls.
	final := choiceMessage(resp)
	if err := a.store.AddMessage(conversationID, final); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	if opts.Collection != nil && opts.Collection.Enabled {
		if err := a.store.SetCollectionSettings(conversationID, opts.Collection); err != nil {
			return nil, fmt.Errorf("failed to persist collection settings: %w", err)
		}
	}

	return &models.AgentResponse{
		ConversationID: conversationID,
		Message:        final,
		ToolCall:       firstToolCall,
		Usage:          resp.Usage,
	}, nil
}

// ensureConversation creates the conversation with a freshly built
// system prompt, or rewrites the stored system prompt when the requested
// format or collection settings would render a different prompt.
func (a *Agent) ensureConversation(id string, opts ChatOptions) error {
	exists, err := a.store.HasConversation(id)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		system := models.TextMessage(models.RoleSystem, BuildSystemPrompt(opts.Format, opts.Collection))
		system.ID = uuid.New().String()
		if err := a.store.InitConversation(id, system); err != nil {
			return fmt.Errorf("failed to init conversation: %w", err)
		}
		return a.store.SetFormat(id, opts.Format)
	}

	storedFormat, ok, err := a.store.GetFormat(id)
	if err != nil {
		return fmt.Errorf("failed to read stored format: %w", err)
	}
	if !ok {
		storedFormat = models.FormatPlain
	}
	storedSettings, err := a.store.GetCollectionSettings(id)
	if err != nil {
		return fmt.Errorf("failed to read collection settings: %w", err)
	}

	// A turn that omits settings inherits the stored ones rather than
	// wiping the mode block from the prompt.
	effective := opts.Collection
	if effective == nil {
		effective = storedSettings
	}

	want := BuildSystemPrompt(opts.Format, effective)
	have := BuildSystemPrompt(storedFormat, storedSettings)
	if want == have {
		return nil
	}
	a.logger.Printf("rebuilding system prompt for conversation %s", id)
	if err := a.store.UpdateSystemPrompt(id, want); err != nil {
		return fmt.Errorf("failed to update system prompt: %w", err)
	}
	if storedFormat != opts.Format {
		return a.store.SetFormat(id, opts.Format)
	}
	return nil
}

// History returns the sanitized message history of a conversation.
func (a *Agent) History(conversationID string) ([]models.Message, error) {
	return a.store.GetHistory(conversationID)
}

// Store exposes the underlying conversation store for administrative
// operations (listing, deletion, retention sweeps).
func (a *Agent) Store() stores.ConversationStore {
	return a.store
}

// Close releases the model and store. It is idempotent: only the first
// call closes anything, later calls return the first call's error.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		modelErr := a.model.Close()
		storeErr := a.store.Close()
		if modelErr != nil {
			a.closeErr = modelErr
			return
		}
		a.closeErr = storeErr
	})
	return a.closeErr
}

func responseHasToolCalls(resp models.ChatResponse) bool {
	return len(resp.Choices) > 0 && resp.Choices[0].Message.HasToolCalls()
}

// choiceMessage extracts the first choice's message, stamping an id so
// every persisted message is individually addressable.
func choiceMessage(resp models.ChatResponse) models.Message {
	var msg models.Message
	if len(resp.Choices) > 0 {
		msg = resp.Choices[0].Message
	}
	if msg.Role == "" {
		msg.Role = models.RoleAssistant
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	return msg
}
