package models

// ChatRequest is the inbound payload for one conversational turn, as
// accepted by the HTTP and WebSocket surfaces.
type ChatRequest struct {
	Message        string              `json:"message"`
	ConversationID string              `json:"conversation_id,omitempty"`
	ResponseFormat string              `json:"response_format,omitempty"`
	Collection     *CollectionSettings `json:"collection,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
}
