package storage

import (
	"context"
	"fmt"

	"github.com/annel0/netsync/internal/config"
)

// Open создаёт хранилище по секции storage конфига
func Open(ctx context.Context, sc config.StorageConfig) (ProfileStore, error) {
	switch sc.Backend {
	case "", "memory":
		return NewMemoryProfileStore(), nil
	case "badger":
		s, err := NewBadgerProfileStore(sc.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisProfileStore(ctx, RedisConfig{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		s, err := NewMySQLProfileStore(ctx, sc.GetMySQLDSN())
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := NewMongoProfileStore(ctx, sc.MongoURI, sc.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", sc.Backend)
	}
}
