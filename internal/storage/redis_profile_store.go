package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/netsync/internal/logging"
)

// RedisConfig настройки подключения к Redis
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL 0: профили не истекают
	TTL time.Duration
}

// DefaultRedisConfig конфигурация по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "netsync:profile:",
	}
}

// RedisProfileStore хранит профили в Redis строками JSON
type RedisProfileStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisProfileStore подключается и проверяет соединение PING
func NewRedisProfileStore(ctx context.Context, cfg RedisConfig) (*RedisProfileStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	logging.GetStorageLogger().Info("Connected to Redis at %s", cfg.Addr)
	return &RedisProfileStore{client: client, keyPrefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisProfileStore) key(username string) string { return s.keyPrefix + username }

func (s *RedisProfileStore) Save(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile %s: %w", p.Username, err)
	}
	if err := s.client.Set(ctx, s.key(p.Username), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.Username, err)
	}
	return nil
}

func (s *RedisProfileStore) Load(ctx context.Context, username string) (Profile, bool, error) {
	data, err := s.client.Get(ctx, s.key(username)).Bytes()
	if err == redis.Nil {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("failed to get profile %s: %w", username, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, false, fmt.Errorf("failed to unmarshal profile %s: %w", username, err)
	}
	return p, true, nil
}

func (s *RedisProfileStore) Delete(ctx context.Context, username string) error {
	n, err := s.client.Del(ctx, s.key(username)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", username, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchSave отправляет все SET одним пайплайном
func (s *RedisProfileStore) BatchSave(ctx context.Context, profiles []Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	if err := validateAll(profiles); err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	for _, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile %s: %w", p.Username, err)
		}
		pipe.Set(ctx, s.key(p.Username), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (s *RedisProfileStore) Close() error { return s.client.Close() }
