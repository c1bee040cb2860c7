package sessions

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	parley "github.com/parley-chat/parley"
	"github.com/parley-chat/parley/models"
)

// AgentError represents errors that occur during a session interaction.
type AgentError struct {
	Message string
	Fatal   bool
}

func (e *AgentError) Error() string {
	return e.Message
}

// Chatter is the agent surface a session needs. *parley.Agent satisfies
// it.
type Chatter interface {
	Chat(ctx context.Context, userText, conversationID string, opts parley.ChatOptions) (*models.AgentResponse, error)
	ChatStream(ctx context.Context, userText, conversationID string, opts parley.ChatOptions) (<-chan models.StreamChunk, <-chan error)
	History(conversationID string) ([]models.Message, error)
}

// WebSocketWriter serializes all writes to one WebSocket connection.
type WebSocketWriter struct {
	Conn             *websocket.Conn
	Logger           *log.Logger
	StartTime        time.Time
	FirstTokenTime   *time.Time
	FirstTokenLogged bool
	mu               sync.Mutex
}

func (w *WebSocketWriter) WriteResponse(resp interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Track time to first token
	if !w.FirstTokenLogged && w.FirstTokenTime == nil && !w.StartTime.IsZero() {
		now := time.Now()
		w.FirstTokenTime = &now
		w.Logger.Printf("Time to first token: %v", now.Sub(w.StartTime))
		w.FirstTokenLogged = true
	}
	return w.Conn.WriteJSON(resp)
}

func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"error": message})
}

func (w *WebSocketWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "done"})
}

// AgentSession encapsulates WebSocket agent interaction logic. One
// session maps to one conversation id.
type AgentSession struct {
	Agent     Chatter
	SessionID string
	Writer    *WebSocketWriter
	Logger    *log.Logger
}

// HTTPSession handles HTTP-based chat interactions.
type HTTPSession struct {
	Agent          Chatter
	ConversationID string
	Logger         *log.Logger
}

// SSEWriter handles Server-Sent Events writing.
type SSEWriter interface {
	WriteSSE(data string) error
	WriteSSEError(err error) error
	Flush()
}
