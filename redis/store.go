package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// JSONStore keeps values of T as JSON under "<prefix>:<key>".
type JSONStore[T any] struct {
	client *Client
	prefix string
}

// NewJSONStore returns a store over client. An empty prefix stores bare keys.
func NewJSONStore[T any](client *Client, prefix string) *JSONStore[T] {
	return &JSONStore[T]{client: client, prefix: prefix}
}

func (s *JSONStore[T]) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get returns the value under key, or nil when the key does not exist.
func (s *JSONStore[T]) Get(ctx context.Context, key string) (*T, error) {
	raw, err := s.client.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("redis decode %q: %w", key, err)
	}
	return v, nil
}

// Put replaces the value under key. A zero ttl never expires.
func (s *JSONStore[T]) Put(ctx context.Context, key string, v *T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis encode %q: %w", key, err)
	}
	if err := s.client.rdb.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *JSONStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Keys lists the keys matching the glob pattern, sorted and without the prefix.
func (s *JSONStore[T]) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.rdb.Scan(ctx, 0, s.key(pattern), 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if s.prefix != "" {
			k = strings.TrimPrefix(k, s.prefix+":")
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", pattern, err)
	}
	slices.Sort(keys)
	return keys, nil
}
