package stores

import (
	"testing"

	"github.com/parley-chat/parley/models"
)

func toolCallMsg(callIDs ...string) models.Message {
	msg := models.Message{Role: models.RoleAssistant}
	for _, id := range callIDs {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCallRequest{
			ID: id, Name: "get_weather", Arguments: `{"location":"Berlin"}`,
		})
	}
	return msg
}

func TestSanitizeHistory_EmptyHistory(t *testing.T) {
	result := SanitizeHistory([]models.Message{})
	if len(result) != 0 {
		t.Errorf("Expected empty result, got %d messages", len(result))
	}
}

func TestSanitizeHistory_ValidHistory(t *testing.T) {
	msgs := []models.Message{
		models.TextMessage(models.RoleSystem, "system prompt"),
		models.TextMessage(models.RoleUser, "hi"),
		toolCallMsg("call_1"),
		models.ToolResultMessage("call_1", "sunny"),
		models.TextMessage(models.RoleAssistant, "it is sunny"),
	}
	result := SanitizeHistory(msgs)
	if len(result) != 5 {
		t.Errorf("Expected 5 messages, got %d", len(result))
	}
}

func TestSanitizeHistory_OrphanedToolMessageAtStart(t *testing.T) {
	msgs := []models.Message{
		models.ToolResultMessage("call_lost", "stale"), // orphaned - should be skipped
		models.TextMessage(models.RoleUser, "hi"),
		models.TextMessage(models.RoleAssistant, "hello"),
	}
	result := SanitizeHistory(msgs)
	if len(result) != 2 {
		t.Errorf("Expected 2 messages (skipping orphaned tool message), got %d", len(result))
	}
	if result[0].Role != models.RoleUser {
		t.Errorf("Expected first message to be user, got %s", result[0].Role)
	}
}

func TestSanitizeHistory_IncompleteCycleAtEnd(t *testing.T) {
	// Simulates an iteration-cap termination: the tool call was saved
	// but no result followed.
	msgs := []models.Message{
		models.TextMessage(models.RoleSystem, "system prompt"),
		models.TextMessage(models.RoleUser, "hi"),
		toolCallMsg("call_1"), // incomplete - should be removed
	}
	result := SanitizeHistory(msgs)
	if len(result) != 2 {
		t.Errorf("Expected 2 messages (removing incomplete cycle), got %d", len(result))
	}
	if result[len(result)-1].Role != models.RoleUser {
		t.Errorf("Expected last message to be user, got %s", result[len(result)-1].Role)
	}
}

func TestSanitizeHistory_MultipleCallsAllAnswered(t *testing.T) {
	msgs := []models.Message{
		models.TextMessage(models.RoleUser, "hi"),
		toolCallMsg("call_1", "call_2"),
		models.ToolResultMessage("call_1", "a"),
		models.ToolResultMessage("call_2", "b"),
		models.TextMessage(models.RoleAssistant, "done"),
	}
	result := SanitizeHistory(msgs)
	if len(result) != 5 {
		t.Errorf("Expected 5 messages, got %d", len(result))
	}
}

func TestSanitizeHistory_PartiallyAnsweredCycleDropped(t *testing.T) {
	// Two calls, one result: replaying this cycle is rejected by the
	// vendor APIs, so the whole cycle goes.
	msgs := []models.Message{
		models.TextMessage(models.RoleUser, "hi"),
		toolCallMsg("call_1", "call_2"),
		models.ToolResultMessage("call_1", "a"),
		models.TextMessage(models.RoleAssistant, "done"),
	}
	result := SanitizeHistory(msgs)
	if len(result) != 2 {
		t.Errorf("Expected 2 messages (dropping partial cycle), got %d", len(result))
	}
	if result[1].Role != models.RoleAssistant || result[1].Text() != "done" {
		t.Errorf("Expected final assistant message to survive, got %+v", result[1])
	}
}

func TestSanitizeHistory_MismatchedToolResultDropped(t *testing.T) {
	msgs := []models.Message{
		models.TextMessage(models.RoleUser, "hi"),
		models.TextMessage(models.RoleAssistant, "hello"),
		models.ToolResultMessage("call_unknown", "stale"), // no matching call
	}
	result := SanitizeHistory(msgs)
	if len(result) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(result))
	}
}

func TestSanitizeHistory_OnlyOrphanedMessages(t *testing.T) {
	msgs := []models.Message{
		models.ToolResultMessage("call_1", "stale"),
		toolCallMsg("call_2"),
	}
	result := SanitizeHistory(msgs)
	if len(result) != 0 {
		t.Errorf("Expected empty result, got %d messages", len(result))
	}
}
