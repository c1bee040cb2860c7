package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parley-chat/parley/models"
	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 5 * time.Second

// RedisStore implements ConversationStore on Redis. Each conversation is
// split across sibling keys under one prefix:
//
//	<prefix>:<id>:messages  list of JSON-marshaled models.Message
//	<prefix>:<id>:format    response format string
//	<prefix>:<id>:settings  JSON-marshaled collection settings
//	<prefix>:<id>:touched   RFC3339 timestamp of the last write
//
// Appends use RPUSH so LRANGE returns history in insertion order.
type RedisStore struct {
	client *redis.Client
	url    string
	prefix string
	ttl    time.Duration // 0 = keys never expire
}

// NewRedisStore creates a new Redis store. Recognized options:
// "prefix" (key namespace, default "parley:conv") and "ttl" (Go
// duration, per-conversation expiry refreshed on every write).
func NewRedisStore(config *StoreConfig) (*RedisStore, error) {
	if config.Type != "redis" {
		return nil, fmt.Errorf("invalid store type for Redis store: %s", config.Type)
	}

	store := &RedisStore{
		url:    config.Connection,
		prefix: "parley:conv",
	}
	if p, ok := config.Options["prefix"]; ok && p != "" {
		store.prefix = p
	}
	if raw, ok := config.Options["ttl"]; ok && raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ttl option %q: %w", raw, err)
		}
		store.ttl = ttl
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}

// NewRedisStoreSimple creates a new Redis store from a redis:// URL.
func NewRedisStoreSimple(url string) (*RedisStore, error) {
	return NewRedisStore(NewStoreConfig("redis", url))
}

// Connect establishes the Redis client connection.
func (s *RedisStore) Connect() error {
	opts, err := redis.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}
	s.client = redis.NewClient(opts)
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping() error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

func (s *RedisStore) key(id, field string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, id, field)
}

func (s *RedisStore) keys(id string) []string {
	return []string{
		s.key(id, "messages"),
		s.key(id, "format"),
		s.key(id, "settings"),
		s.key(id, "touched"),
	}
}

// touch records write activity and refreshes the TTL when one is set.
func (s *RedisStore) touch(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.key(id, "touched"), time.Now().Format(time.RFC3339Nano), s.ttl).Err(); err != nil {
		return err
	}
	if s.ttl > 0 {
		for _, k := range s.keys(id) {
			if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) HasConversation(id string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.Exists(ctx, s.key(id, "messages")).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) InitConversation(id string, system models.Message) error {
	ctx, cancel := s.ctx()
	defer cancel()

	body, err := json.Marshal(system)
	if err != nil {
		return fmt.Errorf("failed to marshal system message: %w", err)
	}
	if err := s.client.RPush(ctx, s.key(id, "messages"), string(body)).Err(); err != nil {
		return fmt.Errorf("failed to init conversation: %w", err)
	}
	return s.touch(ctx, id)
}

func (s *RedisStore) ListConversations() ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var ids []string
	suffix := ":messages"
	iter := s.client.Scan(ctx, 0, s.prefix+":*"+suffix, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, s.prefix+":"), suffix)
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) DeleteConversation(id string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Del(ctx, s.keys(id)...).Err()
}

func (s *RedisStore) LastActivity(id string) (time.Time, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(id, "touched")).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("conversation not found: %s: %w", id, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid touched timestamp for %s: %w", id, err)
	}
	return t, nil
}

// GetHistory retrieves the full message list in insertion order. The
// result is passed through SanitizeHistory before it reaches a vendor
// API.
func (s *RedisStore) GetHistory(id string) ([]models.Message, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.client.LRange(ctx, s.key(id, "messages"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	msgs := make([]models.Message, 0, len(raw))
	for i, item := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return SanitizeHistory(msgs), nil
}

func (s *RedisStore) AddMessage(id string, msg models.Message) error {
	return s.AddMessages(id, []models.Message{msg})
}

func (s *RedisStore) AddMessages(id string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()

	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, string(body))
	}
	if err := s.client.RPush(ctx, s.key(id, "messages"), values...).Err(); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return s.touch(ctx, id)
}

func (s *RedisStore) UpdateSystemPrompt(id string, content string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.client.LIndex(ctx, s.key(id, "messages"), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to fetch first message: %w", err)
	}
	var m models.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("failed to unmarshal system message: %w", err)
	}
	if m.Role != models.RoleSystem {
		return nil
	}
	m.Content = &content
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal system message: %w", err)
	}
	if err := s.client.LSet(ctx, s.key(id, "messages"), 0, string(body)).Err(); err != nil {
		return fmt.Errorf("failed to rewrite system message: %w", err)
	}
	return s.touch(ctx, id)
}

func (s *RedisStore) GetFormat(id string) (models.ResponseFormat, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(id, "format")).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch format: %w", err)
	}
	return models.ResponseFormat(raw), true, nil
}

func (s *RedisStore) SetFormat(id string, format models.ResponseFormat) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Set(ctx, s.key(id, "format"), string(format), s.ttl).Err()
}

func (s *RedisStore) GetCollectionSettings(id string) (*models.CollectionSettings, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(id, "settings")).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection settings: %w", err)
	}
	var settings models.CollectionSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collection settings: %w", err)
	}
	return &settings, nil
}

func (s *RedisStore) SetCollectionSettings(id string, settings *models.CollectionSettings) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if settings == nil {
		return s.client.Del(ctx, s.key(id, "settings")).Err()
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal collection settings: %w", err)
	}
	return s.client.Set(ctx, s.key(id, "settings"), string(body), s.ttl).Err()
}
