package parley

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/models"
)

// ChatStream runs one conversational turn like Chat, but delivers the
// assistant's output incrementally. Intermediate tool rounds are
// persisted silently; only content chunks reach the caller, followed by
// a single Done chunk. The chunk channel is closed when the turn ends;
// at most one error is sent on the error channel.
func (a *Agent) ChatStream(ctx context.Context, userText, conversationID string, opts ChatOptions) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errs := make(chan error, 1)

	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	if opts.Format == "" {
		opts.Format = models.FormatPlain
	}

	go func() {
		defer close(out)
		defer close(errs)

		if err := a.ensureConversation(conversationID, opts); err != nil {
			errs <- err
			return
		}
		userMsg := models.TextMessage(models.RoleUser, userText)
		userMsg.ID = uuid.New().String()
		if err := a.store.AddMessage(conversationID, userMsg); err != nil {
			errs <- fmt.Errorf("failed to persist user message: %w", err)
			return
		}

		temperature := opts.Temperature
		if temperature == nil {
			temperature = a.temp
		}
		declarations := a.registry.Declarations()

		for iter := 0; ; iter++ {
			history, err := a.store.GetHistory(conversationID)
			if err != nil {
				errs <- fmt.Errorf("failed to load history: %w", err)
				return
			}

			assistant, err := a.streamOne(ctx, out, history, declarations, temperature)
			if err != nil {
				errs <- err
				return
			}

			if !assistant.HasToolCalls() || iter >= a.maxIter {
				if err := a.store.AddMessage(conversationID, assistant); err != nil {
					errs <- fmt.Errorf("failed to persist assistant message: %w", err)
					return
				}
				break
			}

			if err := a.store.AddMessage(conversationID, assistant); err != nil {
				errs <- fmt.Errorf("failed to persist assistant message: %w", err)
				return
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
				errs <- fmt.Errorf("failed to persist tool results: %w", err)
				return
			}
		}

		if opts.Collection != nil && opts.Collection.Enabled {
			if err := a.store.SetCollectionSettings(conversationID, opts.Collection); err != nil {
				errs <- fmt.Errorf("failed to persist collection settings: %w", err)
				return
			}
		}

		select {
		case out <- models.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, errs
}

// streamOne consumes a single model stream, forwarding content chunks to
// the caller and accumulating the full assistant message.
func (a *Agent) streamOne(ctx context.Context, out chan<- models.StreamChunk, history []models.Message, declarations []models.FunctionDeclaration, temperature *float64) (models.Message, error) {
	chunks, errs := a.model.ChatStream(ctx, history, declarations, temperature)

	var content strings.Builder
	var toolCalls []models.ToolCallRequest
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				msg := models.Message{
					ID:        uuid.New().String(),
					Role:      models.RoleAssistant,
					ToolCalls: toolCalls,
				}
				if content.Len() > 0 || len(toolCalls) == 0 {
					text := content.String()
					msg.Content = &text
				}
				return msg, nil
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
			if chunk.ContentDelta != "" {
				content.WriteString(chunk.ContentDelta)
				select {
				case out <- models.StreamChunk{Role: models.RoleAssistant, ContentDelta: chunk.ContentDelta}:
				case <-ctx.Done():
					return models.Message{}, ctx.Err()
				}
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return models.Message{}, err
			}
			// closed error channel: stop selecting on it
			errs = nil
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
}
