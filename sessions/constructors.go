package sessions

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// NewAgentSession creates a new WebSocket agent session.
func NewAgentSession(sessionID string, conn *websocket.Conn, agent Chatter) *AgentSession {
	logger := log.New(os.Stdout, fmt.Sprintf("[WS %s] ", sessionID), log.LstdFlags)
	writer := &WebSocketWriter{
		Conn:      conn,
		Logger:    logger,
		StartTime: time.Now(),
	}
	return &AgentSession{
		Agent:     agent,
		SessionID: sessionID,
		Writer:    writer,
		Logger:    logger,
	}
}

// NewHTTPSession creates a new HTTP session.
func NewHTTPSession(conversationID string, agent Chatter) *HTTPSession {
	logger := log.New(os.Stdout, fmt.Sprintf("[HTTP %s] ", conversationID), log.LstdFlags)
	return &HTTPSession{
		Agent:          agent,
		ConversationID: conversationID,
		Logger:         logger,
	}
}
