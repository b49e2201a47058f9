package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ScratchStore holds per-conversation temp data tools produce while a
// scenario is running. Keys live under `agent_context:<conv>:<scenario>`
// with an index set so cleanup can find them all.
type ScratchStore interface {
	Set(ctx context.Context, conversationID, scenario, value string) error
	Get(ctx context.Context, conversationID, scenario string) (string, bool, error)
	Scenarios(ctx context.Context, conversationID string) ([]string, error)
	Clear(ctx context.Context, conversationID string) error
}

type RedisScratchStore struct {
	client *redis.Client
}

func NewRedisScratchStore(client *redis.Client) *RedisScratchStore {
	return &RedisScratchStore{client: client}
}

func scratchKey(conversationID, scenario string) string {
	return fmt.Sprintf("agent_context:%s:%s", conversationID, scenario)
}

func scratchIndexKey(conversationID string) string {
	return fmt.Sprintf("agent_context:%s:scenarios", conversationID)
}

func (s *RedisScratchStore) Set(ctx context.Context, conversationID, scenario, value string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, scratchKey(conversationID, scenario), value, 0)
	pipe.SAdd(ctx, scratchIndexKey(conversationID), scenario)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set scratch context: %w", err)
	}
	return nil
}

func (s *RedisScratchStore) Get(ctx context.Context, conversationID, scenario string) (string, bool, error) {
	value, err := s.client.Get(ctx, scratchKey(conversationID, scenario)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get scratch context: %w", err)
	}
	return value, true, nil
}

func (s *RedisScratchStore) Scenarios(ctx context.Context, conversationID string) ([]string, error) {
	scenarios, err := s.client.SMembers(ctx, scratchIndexKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list scratch scenarios: %w", err)
	}
	return scenarios, nil
}

func (s *RedisScratchStore) Clear(ctx context.Context, conversationID string) error {
	scenarios, err := s.Scenarios(ctx, conversationID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(scenarios)+1)
	for _, scenario := range scenarios {
		keys = append(keys, scratchKey(conversationID, scenario))
	}
	keys = append(keys, scratchIndexKey(conversationID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear scratch context: %w", err)
	}
	return nil
}

// InMemoryScratchStore is a ScratchStore for tests.
type InMemoryScratchStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func NewInMemoryScratchStore() *InMemoryScratchStore {
	return &InMemoryScratchStore{data: make(map[string]map[string]string)}
}

func (s *InMemoryScratchStore) Set(_ context.Context, conversationID, scenario, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[conversationID] == nil {
		s.data[conversationID] = make(map[string]string)
	}
	s.data[conversationID][scenario] = value
	return nil
}

func (s *InMemoryScratchStore) Get(_ context.Context, conversationID, scenario string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[conversationID][scenario]
	return value, ok, nil
}

func (s *InMemoryScratchStore) Scenarios(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scenarios := make([]string, 0, len(s.data[conversationID]))
	for scenario := range s.data[conversationID] {
		scenarios = append(scenarios, scenario)
	}
	return scenarios, nil
}

func (s *InMemoryScratchStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, conversationID)
	return nil
}
