package stores

import (
	"fmt"
)

// NewStore creates a new conversation store based on the configuration
func NewStore(config *StoreConfig) (ConversationStore, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(config)
	case "sqlite":
		return NewSQLiteStore(config)
	case "postgres":
		return NewPostgresStore(config)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// NewSQLiteStoreDefault creates a SQLite store with default settings
func NewSQLiteStoreDefault() (ConversationStore, error) {
	return NewSQLiteStoreSimple("chat_history.sqlite")
}
