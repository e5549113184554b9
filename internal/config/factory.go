package config

import (
	"fmt"

	"github.com/stateflow/stateflow/pkg/storage"
)

// NewStorageAdapter constructs the storage adapter selected by the
// configuration.
func NewStorageAdapter(cfg StorageConfig) (storage.Adapter, error) {
	switch cfg.Type {
	case StorageMemory:
		return storage.NewMemoryAdapter(), nil

	case StorageLocal:
		return storage.NewFileAdapter(cfg.Local.Dir, cfg.Local.Prefix)

	case StorageRemote:
		return storage.NewHTTPAdapter(storage.HTTPAdapterConfig{
			BaseURL: cfg.Remote.BaseURL,
			APIKey:  cfg.Remote.APIKey,
			Headers: cfg.Remote.Headers,
			Timeout: cfg.Remote.Timeout,
		})

	case StorageRedis:
		return storage.NewRedisAdapter(storage.RedisAdapterConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})

	case StoragePostgres:
		db := storage.NewPostgresDB(cfg.Postgres.DSN)
		return storage.NewPostgresAdapter(db), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
