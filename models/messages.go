package models

// Chat roles. These match the wire roles of OpenAI-compatible APIs, so
// history can be replayed to a backend without renaming.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation's history. Content is a pointer
// because an assistant message that only carries tool calls has no text.
// A tool message always references the assistant tool call it answers via
// ToolCallID. Messages are never mutated after append, except the system
// message whose content may be rewritten in place when the system prompt
// changes.
type Message struct {
	ID         string            `json:"id,omitempty"`
	Role       string            `json:"role"`
	Content    *string           `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest is a structured request from the model asking the
// orchestrator to invoke a named function. Arguments is the raw JSON
// object exactly as the model produced it.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TextMessage builds a plain text message for the given role.
func TextMessage(role, text string) Message {
	content := text
	return Message{Role: role, Content: &content}
}

// ToolResultMessage builds a tool-role message answering the tool call
// with the given id.
func ToolResultMessage(toolCallID, result string) Message {
	content := result
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

// Text returns the message content, or "" when the content is nil.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
