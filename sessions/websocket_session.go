package sessions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parley-chat/parley/models"
)

// RunLoop reads chat requests off the socket until the client
// disconnects, running one interaction per request. The session id is
// used as the conversation id unless the request carries its own.
func (as *AgentSession) RunLoop(ctx context.Context) error {
	for {
		_, payload, err := as.Writer.Conn.ReadMessage()
		if err != nil {
			as.Logger.Printf("Connection closed: %v", err)
			return err
		}

		var req models.ChatRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			as.Logger.Printf("Invalid request payload: %v", err)
			as.Writer.WriteError("invalid request payload")
			continue
		}

		if err := as.RunInteraction(ctx, req); err != nil {
			var agentErr *AgentError
			if errors.As(err, &agentErr) && agentErr.Fatal {
				return err
			}
		}
	}
}

// RunInteraction runs one streamed turn, forwarding chunks to the
// client and finishing with a done frame.
func (as *AgentSession) RunInteraction(ctx context.Context, req models.ChatRequest) error {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = as.SessionID
	}

	chunks, errs := as.Agent.ChatStream(ctx, req.Message, conversationID, options(req))

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				as.Logger.Printf("Stream finished normally")
				return as.Writer.WriteDone()
			}
			if err := as.Writer.WriteResponse(chunk); err != nil {
				as.Logger.Printf("Error writing stream chunk: %v", err)
				return &AgentError{Message: "Error writing stream chunk", Fatal: true}
			}

		case err, ok := <-errs:
			if ok && err != nil {
				as.Logger.Printf("Stream error: %v", err)
				as.Writer.WriteError("Agent stream error: " + err.Error())
				return &AgentError{Message: "Agent stream error", Fatal: false}
			}
			if !ok {
				errs = nil
			}

		case <-ctx.Done():
			as.Logger.Printf("Interaction cancelled: %v", ctx.Err())
			return ctx.Err()
		}
	}
}
