package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	parley "github.com/parley-chat/parley"
	"github.com/parley-chat/parley/models"
)

// options maps the inbound request knobs to agent chat options.
func options(req models.ChatRequest) parley.ChatOptions {
	return parley.ChatOptions{
		Format:      models.ParseResponseFormat(req.ResponseFormat),
		Collection:  req.Collection,
		Temperature: req.Temperature,
	}
}

// RunSingleInteraction handles a complete request-response cycle.
func (s *HTTPSession) RunSingleInteraction(ctx context.Context, req models.ChatRequest) (*models.AgentResponse, error) {
	resp, err := s.Agent.Chat(ctx, req.Message, s.ConversationID, options(req))
	if err != nil {
		return nil, fmt.Errorf("agent error: %w", err)
	}
	return resp, nil
}

// RunSSEInteraction streams a turn to the client as Server-Sent Events.
// Each chunk is one JSON-encoded StreamChunk; the final event carries
// done=true.
func (s *HTTPSession) RunSSEInteraction(ctx context.Context, req models.ChatRequest, writer SSEWriter) error {
	chunks, errs := s.Agent.ChatStream(ctx, req.Message, s.ConversationID, options(req))

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				s.Logger.Printf("SSE stream finished.")
				return nil
			}
			jsonData, err := json.Marshal(chunk)
			if err != nil {
				s.Logger.Printf("Error marshalling chunk: %v", err)
				continue
			}
			if err := writer.WriteSSE(string(jsonData)); err != nil {
				s.Logger.Printf("Error writing to SSE stream: %v", err)
				return err
			}
			writer.Flush()

		case err, ok := <-errs:
			if ok && err != nil {
				s.Logger.Printf("SSE stream error: %v", err)
				if writeErr := writer.WriteSSEError(err); writeErr != nil {
					s.Logger.Printf("Error writing SSE error: %v", writeErr)
				}
				writer.Flush()
				return err
			}
			if !ok {
				errs = nil
			}

		case <-ctx.Done():
			s.Logger.Printf("SSE client disconnected")
			return ctx.Err()
		}
	}
}

// GetChatHistory retrieves the conversation history.
func (s *HTTPSession) GetChatHistory() ([]models.Message, error) {
	history, err := s.Agent.History(s.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return history, nil
}
