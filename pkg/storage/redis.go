package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stateflow/stateflow/pkg/models"
)

// RedisAdapterConfig configures the Redis-backed store.
type RedisAdapterConfig struct {
	// URL in redis:// form, parsed with redis.ParseURL.
	URL string

	Password string
	DB       int
	PoolSize int

	// Prefix namespaces keys. Defaults to "stateflow:workflow:".
	Prefix string
}

// RedisAdapter stores workflow state as JSON values under
// <prefix><id>.
type RedisAdapter struct {
	client *redis.Client
	prefix string
}

// NewRedisAdapter connects to Redis and verifies the connection.
func NewRedisAdapter(cfg RedisAdapterConfig) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "stateflow:workflow:"
	}
	return &RedisAdapter{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}

func (a *RedisAdapter) key(id string) string {
	return a.prefix + id
}

// Save implements Adapter.
func (a *RedisAdapter) Save(ctx context.Context, id string, state *models.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}
	if err := a.client.Set(ctx, a.key(id), data, 0).Err(); err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}
	return nil
}

// Load implements Adapter.
func (a *RedisAdapter) Load(ctx context.Context, id string) (*models.WorkflowState, error) {
	data, err := a.client.Get(ctx, a.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrWorkflowNotFound
		}
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}

	var state models.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}
	return &state, nil
}

// Delete implements Adapter.
func (a *RedisAdapter) Delete(ctx context.Context, id string) error {
	deleted, err := a.client.Del(ctx, a.key(id)).Result()
	if err != nil {
		return &models.StorageError{Op: "delete", Key: id, Err: err}
	}
	if deleted == 0 {
		return models.ErrWorkflowNotFound
	}
	return nil
}

// List implements Adapter, scanning for keys under the prefix.
func (a *RedisAdapter) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := a.client.Scan(ctx, 0, a.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), a.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	return ids, nil
}
