// Package sensitive masks secrets in tool responses before they reach the
// model transcript and recovers the originals when a later tool call needs
// them.
package sensitive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MappingStore is the hash store behind a processor. Two hashes exist per
// conversation: identifier → original and masked → original, sharing a TTL.
type MappingStore interface {
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type RedisMappingStore struct {
	client *redis.Client
}

func NewRedisMappingStore(client *redis.Client) *RedisMappingStore {
	return &RedisMappingStore{client: client}
}

func (s *RedisMappingStore) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("failed to store sensitive mapping: %w", err)
	}
	return nil
}

func (s *RedisMappingStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sensitive mapping: %w", err)
	}
	return value, true, nil
}

func (s *RedisMappingStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sensitive mappings: %w", err)
	}
	return values, nil
}

func (s *RedisMappingStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh sensitive mapping TTL: %w", err)
	}
	return nil
}

func (s *RedisMappingStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete sensitive mappings: %w", err)
	}
	return nil
}

// InMemoryMappingStore is a MappingStore for tests. Entries whose TTL has
// elapsed read as absent.
type InMemoryMappingStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

func NewInMemoryMappingStore() *InMemoryMappingStore {
	return &InMemoryMappingStore{
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *InMemoryMappingStore) expired(key string) bool {
	deadline, ok := s.expires[key]
	return ok && s.now().After(deadline)
}

func (s *InMemoryMappingStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		delete(s.hashes, key)
		delete(s.expires, key)
	}
	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	s.hashes[key][field] = value
	return nil
}

func (s *InMemoryMappingStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		return "", false, nil
	}
	value, ok := s.hashes[key][field]
	return value, ok, nil
}

func (s *InMemoryMappingStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		out[field] = value
	}
	return out, nil
}

func (s *InMemoryMappingStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expires[key] = s.now().Add(ttl)
	return nil
}

func (s *InMemoryMappingStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.expires, key)
	}
	return nil
}
