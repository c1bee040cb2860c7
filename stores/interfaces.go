package stores

import (
	"time"

	"github.com/parley-chat/parley/models"
)

// ConversationStore is the single source of truth for conversation
// history across turns. All operations are keyed by an opaque
// conversation id; no operation may observe another conversation's data.
// Implementations must serialize concurrent writes to the same
// conversation.
type ConversationStore interface {
	// Conversation lifecycle
	HasConversation(id string) (bool, error)
	InitConversation(id string, system models.Message) error
	ListConversations() ([]string, error)
	DeleteConversation(id string) error
	LastActivity(id string) (time.Time, error)

	// Message operations
	GetHistory(id string) ([]models.Message, error)
	AddMessage(id string, msg models.Message) error
	AddMessages(id string, msgs []models.Message) error
	// UpdateSystemPrompt rewrites the content of the first message, and
	// only if that message's role is system. The message identity is
	// preserved.
	UpdateSystemPrompt(id string, content string) error

	// Per-conversation settings
	GetFormat(id string) (models.ResponseFormat, bool, error)
	SetFormat(id string, format models.ResponseFormat) error
	GetCollectionSettings(id string) (*models.CollectionSettings, error)
	SetCollectionSettings(id string, settings *models.CollectionSettings) error

	// Connection management
	Connect() error
	Close() error

	// Health check
	Ping() error
}

// StoreConfig holds configuration for conversation stores
type StoreConfig struct {
	Type       string            `json:"type"`       // "memory", "redis", "sqlite", "postgres"
	Connection string            `json:"connection"` // connection string / DSN (unused for memory)
	Options    map[string]string `json:"options"`    // additional options
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}
