package stores

import (
	"fmt"
	"sync"
	"testing"

	"github.com/parley-chat/parley/models"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore()

	exists, err := store.HasConversation("conv1")
	if err != nil {
		t.Fatalf("HasConversation failed: %v", err)
	}
	if exists {
		t.Error("Expected conversation to not exist")
	}

	system := models.TextMessage(models.RoleSystem, "you are helpful")
	if err := store.InitConversation("conv1", system); err != nil {
		t.Fatalf("InitConversation failed: %v", err)
	}

	exists, _ = store.HasConversation("conv1")
	if !exists {
		t.Error("Expected conversation to exist after init")
	}

	// Double init is an error
	if err := store.InitConversation("conv1", system); err == nil {
		t.Error("Expected error on duplicate InitConversation")
	}

	history, err := store.GetHistory("conv1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Role != models.RoleSystem {
		t.Errorf("Expected history with single system message, got %+v", history)
	}

	if err := store.DeleteConversation("conv1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	exists, _ = store.HasConversation("conv1")
	if exists {
		t.Error("Expected conversation to be gone after delete")
	}
}

func TestMemoryStore_AddAndGetMessages(t *testing.T) {
	store := NewMemoryStore()
	store.InitConversation("conv1", models.TextMessage(models.RoleSystem, "sys"))

	if err := store.AddMessage("conv1", models.TextMessage(models.RoleUser, "hello")); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := store.AddMessages("conv1", []models.Message{
		models.TextMessage(models.RoleAssistant, "hi"),
		models.TextMessage(models.RoleUser, "how are you"),
	}); err != nil {
		t.Fatalf("AddMessages failed: %v", err)
	}

	history, _ := store.GetHistory("conv1")
	if len(history) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(history))
	}
	if history[1].Text() != "hello" || history[2].Text() != "hi" {
		t.Errorf("Messages out of order: %+v", history)
	}

	// Mutating the returned slice must not affect the store
	history[0].Content = nil
	fresh, _ := store.GetHistory("conv1")
	if fresh[0].Text() != "sys" {
		t.Error("GetHistory result is not a copy")
	}
}

func TestMemoryStore_MissingConversation(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.GetHistory("nope"); err == nil {
		t.Error("Expected error for missing conversation")
	}
	if err := store.AddMessage("nope", models.TextMessage(models.RoleUser, "x")); err == nil {
		t.Error("Expected error for missing conversation")
	}
	if _, err := store.LastActivity("nope"); err == nil {
		t.Error("Expected error for missing conversation")
	}
}

func TestMemoryStore_UpdateSystemPrompt(t *testing.T) {
	store := NewMemoryStore()
	system := models.TextMessage(models.RoleSystem, "old prompt")
	system.ID = "sys-1"
	store.InitConversation("conv1", system)
	store.AddMessage("conv1", models.TextMessage(models.RoleUser, "hi"))

	if err := store.UpdateSystemPrompt("conv1", "new prompt"); err != nil {
		t.Fatalf("UpdateSystemPrompt failed: %v", err)
	}

	history, _ := store.GetHistory("conv1")
	if history[0].Text() != "new prompt" {
		t.Errorf("Expected system prompt rewritten, got %q", history[0].Text())
	}
	if history[0].ID != "sys-1" {
		t.Error("System message identity must be preserved")
	}
	if history[1].Text() != "hi" {
		t.Error("Other messages must be untouched")
	}
}

func TestMemoryStore_UpdateSystemPromptNonSystemFirst(t *testing.T) {
	// A conversation whose first message is not system must not be
	// rewritten.
	store := NewMemoryStore()
	store.InitConversation("conv1", models.TextMessage(models.RoleUser, "hi"))

	if err := store.UpdateSystemPrompt("conv1", "new prompt"); err != nil {
		t.Fatalf("UpdateSystemPrompt failed: %v", err)
	}
	history, _ := store.GetHistory("conv1")
	if history[0].Text() != "hi" {
		t.Errorf("Non-system first message was rewritten: %q", history[0].Text())
	}
}

func TestMemoryStore_FormatAndSettings(t *testing.T) {
	store := NewMemoryStore()
	store.InitConversation("conv1", models.TextMessage(models.RoleSystem, "sys"))

	_, ok, err := store.GetFormat("conv1")
	if err != nil {
		t.Fatalf("GetFormat failed: %v", err)
	}
	if ok {
		t.Error("Expected no format before SetFormat")
	}

	store.SetFormat("conv1", models.FormatJSON)
	format, ok, _ := store.GetFormat("conv1")
	if !ok || format != models.FormatJSON {
		t.Errorf("Expected json format, got %q ok=%v", format, ok)
	}

	settings, err := store.GetCollectionSettings("conv1")
	if err != nil {
		t.Fatalf("GetCollectionSettings failed: %v", err)
	}
	if settings != nil {
		t.Error("Expected nil settings before SetCollectionSettings")
	}

	store.SetCollectionSettings("conv1", &models.CollectionSettings{
		Mode: models.ModeStepByStep, Enabled: true,
	})
	settings, _ = store.GetCollectionSettings("conv1")
	if settings == nil || settings.Mode != models.ModeStepByStep {
		t.Errorf("Expected step_by_step settings, got %+v", settings)
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()
	store.InitConversation("a", models.TextMessage(models.RoleSystem, "sys a"))
	store.InitConversation("b", models.TextMessage(models.RoleSystem, "sys b"))
	store.AddMessage("a", models.TextMessage(models.RoleUser, "only in a"))

	historyB, _ := store.GetHistory("b")
	if len(historyB) != 1 {
		t.Errorf("Conversation b leaked messages from a: %+v", historyB)
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	store := NewMemoryStore()
	store.InitConversation("conv1", models.TextMessage(models.RoleSystem, "sys"))

	const writers = 10
	const perWriter = 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := models.TextMessage(models.RoleUser, fmt.Sprintf("w%d-%d", w, i))
				if err := store.AddMessage("conv1", msg); err != nil {
					t.Errorf("AddMessage failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	history, _ := store.GetHistory("conv1")
	if len(history) != 1+writers*perWriter {
		t.Errorf("Expected %d messages, got %d", 1+writers*perWriter, len(history))
	}
}

func TestMemoryStore_ConcurrentSettingsAccess(t *testing.T) {
	// Readers of format, settings and last-activity must hold the same
	// per-conversation mutex as the writers; run them all against one id
	// so the race detector can catch an unlocked read.
	store := NewMemoryStore()
	store.InitConversation("conv1", models.TextMessage(models.RoleSystem, "sys"))

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			store.SetFormat("conv1", models.FormatJSON)
			store.SetCollectionSettings("conv1", &models.CollectionSettings{
				Mode: models.ModeFreeForm, Enabled: true,
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, _, err := store.GetFormat("conv1"); err != nil {
				t.Errorf("GetFormat failed: %v", err)
			}
			if _, err := store.GetCollectionSettings("conv1"); err != nil {
				t.Errorf("GetCollectionSettings failed: %v", err)
			}
			if _, err := store.LastActivity("conv1"); err != nil {
				t.Errorf("LastActivity failed: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			store.AddMessage("conv1", models.TextMessage(models.RoleUser, "ping"))
		}
	}()
	wg.Wait()

	format, ok, _ := store.GetFormat("conv1")
	if !ok || format != models.FormatJSON {
		t.Errorf("Expected json format after the writers finish, got %q ok=%v", format, ok)
	}
	settings, _ := store.GetCollectionSettings("conv1")
	if settings == nil || settings.Mode != models.ModeFreeForm {
		t.Errorf("Expected free_form settings, got %+v", settings)
	}
}
