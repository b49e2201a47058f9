package memory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation's records in the list `memory:<conv>`,
// truncated to the configured depth on every append.
type RedisStore struct {
	client *redis.Client
	depth  int64
}

func NewRedisStore(client *redis.Client, depth int) *RedisStore {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &RedisStore{client: client, depth: int64(depth)}
}

func memoryKey(conversationID string) string {
	return "memory:" + conversationID
}

func (s *RedisStore) Append(ctx context.Context, conversationID string, rec Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	key := memoryKey(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, -s.depth, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append memory record: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, conversationID string, k int) ([]Record, error) {
	if k <= 0 {
		k = int(s.depth)
	}

	raw, err := s.client.LRange(ctx, memoryKey(conversationID), int64(-k), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load memory records: %w", err)
	}
	return decodeRecords(raw)
}
