package models

import "strings"

// ResponseFormat directs the output shape the model is asked for via the
// system prompt.
type ResponseFormat string

const (
	FormatPlain    ResponseFormat = "plain"
	FormatJSON     ResponseFormat = "json"
	FormatMarkdown ResponseFormat = "markdown"
)

// ParseResponseFormat maps a user supplied string to a ResponseFormat.
// Unknown or empty values fall back to plain text.
func ParseResponseFormat(s string) ResponseFormat {
	switch ResponseFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON
	case FormatMarkdown:
		return FormatMarkdown
	default:
		return FormatPlain
	}
}

// CollectionMode selects a data-collection or task-solving instruction
// template appended to the system prompt.
type CollectionMode string

const (
	ModeNone         CollectionMode = "none"
	ModeFreeForm     CollectionMode = "free_form"
	ModeDirectAnswer CollectionMode = "direct_answer"
	ModeStepByStep   CollectionMode = "step_by_step"
	ModeExpertPanel  CollectionMode = "expert_panel"
	ModeCustom       CollectionMode = "custom"
)

// CollectionSettings is optional per-turn configuration directing the
// model toward a specific instruction template. It is persisted with the
// conversation so later turns can detect whether the system prompt must
// be rebuilt.
type CollectionSettings struct {
	Mode               CollectionMode `json:"mode"`
	Enabled            bool           `json:"enabled"`
	CustomSystemPrompt string         `json:"custom_system_prompt,omitempty"`
	CustomPrompt       string         `json:"custom_prompt,omitempty"`
	ResultTitle        string         `json:"result_title,omitempty"`
}

// Active reports whether the settings request a mode-specific prompt
// block. Nil settings, disabled settings and the none sentinel are all
// inactive.
func (s *CollectionSettings) Active() bool {
	if s == nil || !s.Enabled {
		return false
	}
	return s.Mode != "" && s.Mode != ModeNone
}
