package stores

import (
	"fmt"
	"sync"
	"time"

	"github.com/parley-chat/parley/models"
)

// MemoryStore implements ConversationStore with in-process maps. Access
// to each conversation is serialized through a lazily created
// per-conversation mutex so concurrent turns on the same id cannot
// interleave appends, while different ids proceed in parallel.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memoryConversation
	locks sync.Map // conversation id -> *sync.Mutex
}

type memoryConversation struct {
	messages  []models.Message
	format    models.ResponseFormat
	hasFormat bool
	settings  *models.CollectionSettings
	touched   time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*memoryConversation)}
}

// lock returns the mutex for a conversation id, creating it on first
// touch. LoadOrStore gives insert-if-absent semantics, so two goroutines
// racing on a fresh id end up with the same mutex.
func (s *MemoryStore) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *MemoryStore) get(id string) (*memoryConversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	return conv, ok
}

func (s *MemoryStore) HasConversation(id string) (bool, error) {
	_, ok := s.get(id)
	return ok, nil
}

func (s *MemoryStore) InitConversation(id string, system models.Message) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[id]; exists {
		return fmt.Errorf("conversation %s already exists", id)
	}
	s.convs[id] = &memoryConversation{
		messages: []models.Message{system},
		touched:  time.Now(),
	}
	return nil
}

func (s *MemoryStore) ListConversations() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteConversation(id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	delete(s.convs, id)
	s.mu.Unlock()
	s.locks.Delete(id)
	return nil
}

func (s *MemoryStore) LastActivity(id string) (time.Time, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return time.Time{}, fmt.Errorf("conversation not found: %s", id)
	}
	return conv.touched, nil
}

// GetHistory returns a copy of the message list so callers can append to
// it freely without racing the store. The copy is passed through
// SanitizeHistory so incomplete tool cycles never reach a vendor API.
func (s *MemoryStore) GetHistory(id string) ([]models.Message, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	out := make([]models.Message, len(conv.messages))
	copy(out, conv.messages)
	return SanitizeHistory(out), nil
}

func (s *MemoryStore) AddMessage(id string, msg models.Message) error {
	return s.AddMessages(id, []models.Message{msg})
}

func (s *MemoryStore) AddMessages(id string, msgs []models.Message) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return fmt.Errorf("conversation not found: %s", id)
	}
	conv.messages = append(conv.messages, msgs...)
	conv.touched = time.Now()
	return nil
}

func (s *MemoryStore) UpdateSystemPrompt(id string, content string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return fmt.Errorf("conversation not found: %s", id)
	}
	if len(conv.messages) == 0 || conv.messages[0].Role != models.RoleSystem {
		return nil
	}
	conv.messages[0].Content = &content
	conv.touched = time.Now()
	return nil
}

func (s *MemoryStore) GetFormat(id string) (models.ResponseFormat, bool, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return "", false, fmt.Errorf("conversation not found: %s", id)
	}
	return conv.format, conv.hasFormat, nil
}

func (s *MemoryStore) SetFormat(id string, format models.ResponseFormat) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return fmt.Errorf("conversation not found: %s", id)
	}
	conv.format = format
	conv.hasFormat = true
	return nil
}

func (s *MemoryStore) GetCollectionSettings(id string) (*models.CollectionSettings, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	if conv.settings == nil {
		return nil, nil
	}
	settings := *conv.settings
	return &settings, nil
}

func (s *MemoryStore) SetCollectionSettings(id string, settings *models.CollectionSettings) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	conv, ok := s.get(id)
	if !ok {
		return fmt.Errorf("conversation not found: %s", id)
	}
	if settings == nil {
		conv.settings = nil
		return nil
	}
	copied := *settings
	conv.settings = &copied
	return nil
}

// Connect is a no-op for the in-memory store.
func (s *MemoryStore) Connect() error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ping is a no-op for the in-memory store.
func (s *MemoryStore) Ping() error { return nil }
