package models

// ChatResponse is the backend-neutral result of one chat-completion call.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion candidate. Every backend returns at least one.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one incremental delta of a streaming completion.
// ContentDelta carries newly produced text; ToolCalls is only populated
// on the final chunk of a tool-bearing response.
type StreamChunk struct {
	Role         string            `json:"role,omitempty"`
	ContentDelta string            `json:"content,omitempty"`
	ToolCalls    []ToolCallRequest `json:"tool_calls,omitempty"`
	Done         bool              `json:"done,omitempty"`
	FinishReason *string           `json:"finish_reason,omitempty"`
}

// ToolCallInfo describes a tool invocation for display purposes.
type ToolCallInfo struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// AgentResponse is the result of one Agent turn: the final assistant
// message plus, when the turn involved tools, the first tool call seen.
// It is a view over the persisted history, not a stored entity.
type AgentResponse struct {
	ConversationID string        `json:"conversation_id"`
	Message        Message       `json:"message"`
	ToolCall       *ToolCallInfo `json:"tool_call,omitempty"`
	Usage          *Usage        `json:"usage,omitempty"`
}
