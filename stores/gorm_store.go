package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley-chat/parley/models"
	"gorm.io/gorm"
)

// Conversation is the relational record for a chat conversation.
type Conversation struct {
	gorm.Model
	ConversationID string    `gorm:"uniqueIndex;not null"`
	ResponseFormat string    `gorm:"type:varchar(16)"`
	SettingsJSON   string    `gorm:"type:json"`
	MessageCount   int       `gorm:"default:0"`
	Messages       []Message `gorm:"foreignKey:ConversationID;references:ConversationID"`
}

// Message is the relational record for one history entry. BodyJSON holds
// the JSON-marshaled models.Message so the wire-neutral shape survives
// round trips without a column per field.
type Message struct {
	gorm.Model
	ConversationID string `gorm:"index;not null"`
	Sequence       int    `gorm:"not null"`
	Role           string `gorm:"not null"`
	BodyJSON       string `gorm:"type:json"`
}

// gormStore holds the backend-independent SQL logic. SQLiteStore and
// PostgresStore embed it and only differ in how they open the database.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) migrate() error {
	return s.db.AutoMigrate(&Conversation{}, &Message{})
}

func (s *gormStore) requireDB() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return nil
}

func (s *gormStore) HasConversation(id string) (bool, error) {
	if err := s.requireDB(); err != nil {
		return false, err
	}
	var count int64
	if err := s.db.Model(&Conversation{}).Where("conversation_id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return count > 0, nil
}

func (s *gormStore) InitConversation(id string, system models.Message) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	body, err := json.Marshal(system)
	if err != nil {
		return fmt.Errorf("failed to marshal system message: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		conv := Conversation{ConversationID: id, MessageCount: 1}
		if err := tx.Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to create conversation record: %w", err)
		}
		msg := Message{
			ConversationID: id,
			Sequence:       1,
			Role:           system.Role,
			BodyJSON:       string(body),
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to create system message record: %w", err)
		}
		return nil
	})
}

func (s *gormStore) ListConversations() ([]string, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := s.db.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ConversationID
	}
	return ids, nil
}

func (s *gormStore) DeleteConversation(id string) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&Conversation{}).Error; err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

func (s *gormStore) LastActivity(id string) (time.Time, error) {
	if err := s.requireDB(); err != nil {
		return time.Time{}, err
	}
	var conv Conversation
	if err := s.db.Where("conversation_id = ?", id).First(&conv).Error; err != nil {
		return time.Time{}, fmt.Errorf("conversation not found: %s: %w", id, err)
	}
	return conv.UpdatedAt, nil
}

// GetHistory retrieves messages in sequence order. The result is passed
// through SanitizeHistory so truncated tool cycles never reach a vendor
// API.
func (s *gormStore) GetHistory(id string) ([]models.Message, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}
	var records []Message
	if err := s.db.Where("conversation_id = ?", id).Order("sequence ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	msgs := make([]models.Message, 0, len(records))
	for _, rec := range records {
		var m models.Message
		if err := json.Unmarshal([]byte(rec.BodyJSON), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %d: %w", rec.ID, err)
		}
		msgs = append(msgs, m)
	}
	return SanitizeHistory(msgs), nil
}

func (s *gormStore) AddMessage(id string, msg models.Message) error {
	return s.AddMessages(id, []models.Message{msg})
}

func (s *gormStore) AddMessages(id string, msgs []models.Message) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Message{}).Where("conversation_id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count existing messages: %w", err)
		}
		seq := int(count)
		for _, m := range msgs {
			seq++
			body, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			rec := Message{
				ConversationID: id,
				Sequence:       seq,
				Role:           m.Role,
				BodyJSON:       string(body),
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to create message record: %w", err)
			}
		}
		if err := tx.Model(&Conversation{}).Where("conversation_id = ?", id).Update("message_count", seq).Error; err != nil {
			return fmt.Errorf("failed to update conversation message count: %w", err)
		}
		return nil
	})
}

func (s *gormStore) UpdateSystemPrompt(id string, content string) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var rec Message
		if err := tx.Where("conversation_id = ?", id).Order("sequence ASC").First(&rec).Error; err != nil {
			return fmt.Errorf("failed to fetch first message: %w", err)
		}
		if rec.Role != models.RoleSystem {
			return nil
		}
		var m models.Message
		if err := json.Unmarshal([]byte(rec.BodyJSON), &m); err != nil {
			return fmt.Errorf("failed to unmarshal system message: %w", err)
		}
		m.Content = &content
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal system message: %w", err)
		}
		return tx.Model(&rec).Update("body_json", string(body)).Error
	})
}

func (s *gormStore) GetFormat(id string) (models.ResponseFormat, bool, error) {
	if err := s.requireDB(); err != nil {
		return "", false, err
	}
	var conv Conversation
	if err := s.db.Where("conversation_id = ?", id).First(&conv).Error; err != nil {
		return "", false, fmt.Errorf("conversation not found: %s: %w", id, err)
	}
	if conv.ResponseFormat == "" {
		return "", false, nil
	}
	return models.ResponseFormat(conv.ResponseFormat), true, nil
}

func (s *gormStore) SetFormat(id string, format models.ResponseFormat) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	return s.db.Model(&Conversation{}).Where("conversation_id = ?", id).
		Update("response_format", string(format)).Error
}

func (s *gormStore) GetCollectionSettings(id string) (*models.CollectionSettings, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}
	var conv Conversation
	if err := s.db.Where("conversation_id = ?", id).First(&conv).Error; err != nil {
		return nil, fmt.Errorf("conversation not found: %s: %w", id, err)
	}
	if conv.SettingsJSON == "" || conv.SettingsJSON == "null" {
		return nil, nil
	}
	var settings models.CollectionSettings
	if err := json.Unmarshal([]byte(conv.SettingsJSON), &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collection settings: %w", err)
	}
	return &settings, nil
}

func (s *gormStore) SetCollectionSettings(id string, settings *models.CollectionSettings) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	body := "null"
	if settings != nil {
		b, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal collection settings: %w", err)
		}
		body = string(b)
	}
	return s.db.Model(&Conversation{}).Where("conversation_id = ?", id).
		Update("settings_json", body).Error
}

func (s *gormStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) Ping() error {
	if err := s.requireDB(); err != nil {
		return err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
