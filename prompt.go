package parley

import (
	"strings"

	"github.com/parley-chat/parley/models"
)

// defaultPersona is the system prompt used when no custom persona is
// supplied.
const defaultPersona = `You are a helpful assistant. Answer the user's questions accurately and concisely. When a tool can provide information you do not have, call it instead of guessing. Admit when you do not know something.`

const (
	plainFormatInstruction = `Respond in plain text. Do not use markdown formatting, code fences, or structured markup unless the user explicitly asks for it.`

	jsonFormatInstruction = `Respond with a single valid JSON object and nothing else. Do not wrap the JSON in code fences and do not add commentary before or after it.`

	markdownFormatInstruction = `Respond in well-formed markdown. Use headings, lists, and code blocks where they improve readability.`
)

// collectionMarker opens every mode-specific instruction block. Tests
// and callers can detect whether a prompt carries a mode block by
// looking for this substring.
const collectionMarker = "## Data Collection Mode"

const (
	freeFormInstruction = collectionMarker + `

You are gathering information from the user in a free-form conversation. Ask follow-up questions naturally, one at a time, until you have everything you need, then summarize what was collected.`

	directAnswerInstruction = collectionMarker + `

Answer the user's question directly and immediately. Do not ask clarifying questions unless the request is genuinely ambiguous. Keep the answer as short as correctness allows.`

	stepByStepInstruction = collectionMarker + `

Work through the user's request step by step. Number each step, state what you are doing and why, and only give the final answer after the steps are laid out.`

	expertPanelInstruction = collectionMarker + `

Answer as a panel of three domain experts. Each expert states their view in turn, then the panel converges on a single recommendation. Label each expert's contribution.`
)

// BuildSystemPrompt renders the system prompt for a conversation from
// the response format and optional collection settings. It is pure and
// deterministic: equal inputs produce equal output, which lets callers
// detect settings changes by comparing rendered prompts.
//
// A non-blank CustomSystemPrompt replaces the default persona entirely;
// the format instruction (and mode block, if any) are still appended
// after it. An unrecognized mode contributes no block rather than
// failing the turn.
func BuildSystemPrompt(format models.ResponseFormat, settings *models.CollectionSettings) string {
	var b strings.Builder

	persona := defaultPersona
	if settings != nil && strings.TrimSpace(settings.CustomSystemPrompt) != "" {
		persona = settings.CustomSystemPrompt
	}
	b.WriteString(persona)

	b.WriteString("\n\n")
	b.WriteString(formatInstruction(format))

	if block := modeInstruction(settings); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	return b.String()
}

func formatInstruction(format models.ResponseFormat) string {
	switch format {
	case models.FormatJSON:
		return jsonFormatInstruction
	case models.FormatMarkdown:
		return markdownFormatInstruction
	default:
		return plainFormatInstruction
	}
}

// modeInstruction returns the mode-specific block, or "" when settings
// are absent, disabled, set to the none sentinel, or carry a mode this
// build does not know. Unknown modes fail closed instead of erroring.
func modeInstruction(settings *models.CollectionSettings) string {
	if !settings.Active() {
		return ""
	}
	switch settings.Mode {
	case models.ModeFreeForm:
		return freeFormInstruction
	case models.ModeDirectAnswer:
		return directAnswerInstruction
	case models.ModeStepByStep:
		return stepByStepInstruction
	case models.ModeExpertPanel:
		return expertPanelInstruction
	case models.ModeCustom:
		return customInstruction(settings)
	default:
		return ""
	}
}

func customInstruction(settings *models.CollectionSettings) string {
	var b strings.Builder
	b.WriteString(collectionMarker)
	b.WriteString("\n\n")
	if strings.TrimSpace(settings.CustomPrompt) != "" {
		b.WriteString(settings.CustomPrompt)
	} else {
		b.WriteString("Follow the task instructions the user provides for this conversation.")
	}
	if strings.TrimSpace(settings.ResultTitle) != "" {
		b.WriteString("\n\nTitle the final result: ")
		b.WriteString(settings.ResultTitle)
	}
	return b.String()
}
