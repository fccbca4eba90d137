package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisExecutionStore 将执行记录写入 Redis，多实例部署时共享查询
type RedisExecutionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisExecutionStore(client *redis.Client, ttl time.Duration) *RedisExecutionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisExecutionStore{client: client, ttl: ttl}
}

func executionKey(id string) string {
	return "execution:" + id
}

func (s *RedisExecutionStore) Create(ctx context.Context, execution *Execution) error {
	return s.set(ctx, execution)
}

func (s *RedisExecutionStore) Update(ctx context.Context, execution *Execution) error {
	return s.set(ctx, execution)
}

func (s *RedisExecutionStore) set(ctx context.Context, execution *Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	if err := s.client.Set(ctx, executionKey(execution.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store execution: %w", err)
	}
	return nil
}

func (s *RedisExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	data, err := s.client.Get(ctx, executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("load execution: %w", err)
	}
	var execution Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return &execution, nil
}
