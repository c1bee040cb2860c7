package stores

import (
	"log"

	"github.com/parley-chat/parley/models"
)

// SanitizeHistory repairs a message history so it replays cleanly
// against chat-completion APIs. Truncated or corrupted histories can
// contain two kinds of damage:
//
//  1. tool messages whose originating assistant tool call was cut off
//  2. assistant tool-call messages whose results never made it in
//     (for example a turn terminated by the iteration cap)
//
// Both are dropped: a tool message without its call, or a call without
// its result, is rejected by the vendor APIs. The system message and all
// complete cycles are preserved in order.
func SanitizeHistory(msgs []models.Message) []models.Message {
	if len(msgs) == 0 {
		return msgs
	}

	// Skip orphaned tool results at the start (truncation artifact).
	start := 0
	for start < len(msgs) && msgs[start].Role == models.RoleTool {
		start++
	}
	if start > 0 {
		log.Printf("[SANITIZE] Skipping %d orphaned tool messages at history start", start)
	}
	msgs = msgs[start:]

	out := make([]models.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == models.RoleAssistant && m.HasToolCalls() {
			// Collect the tool results directly following this message
			// and keep the cycle only when every call is answered.
			answered := make(map[string]bool)
			j := i + 1
			for ; j < len(msgs) && msgs[j].Role == models.RoleTool; j++ {
				answered[msgs[j].ToolCallID] = true
			}
			complete := true
			for _, call := range m.ToolCalls {
				if !answered[call.ID] {
					complete = false
					break
				}
			}
			if !complete {
				log.Printf("[SANITIZE] Dropping unanswered tool-call cycle (%d messages)", j-i)
				i = j - 1
				continue
			}
			out = append(out, m)
			continue
		}

		if m.Role == models.RoleTool {
			// Reachable only when the preceding assistant cycle was kept;
			// a stray tool message elsewhere is orphaned.
			if answersKeptCall(out, m.ToolCallID) {
				out = append(out, m)
			} else {
				log.Printf("[SANITIZE] Dropping orphaned tool message (tool_call_id=%s)", m.ToolCallID)
			}
			continue
		}

		out = append(out, m)
	}

	return out
}

// answersKeptCall reports whether the most recent kept assistant
// tool-call message requested the given id, looking back across the
// tool results already kept for that cycle.
func answersKeptCall(kept []models.Message, toolCallID string) bool {
	for i := len(kept) - 1; i >= 0; i-- {
		switch kept[i].Role {
		case models.RoleTool:
			continue
		case models.RoleAssistant:
			for _, call := range kept[i].ToolCalls {
				if call.ID == toolCallID {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}
