package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultHistoryDepth is K, the number of most-recent records loaded back
// into a new transcript.
const DefaultHistoryDepth = 10

// Record is one persisted conversation turn: the user input, the final
// output, and any per-turn scratch data a tool left behind.
type Record struct {
	Input    string         `json:"input"`
	Output   string         `json:"output"`
	Time     time.Time      `json:"time"`
	TempData map[string]any `json:"temp_data,omitempty"`
}

// Store persists per-conversation turn history. Implementations keep at
// most their configured depth of records per conversation.
type Store interface {
	Append(ctx context.Context, conversationID string, rec Record) error
	Recent(ctx context.Context, conversationID string, k int) ([]Record, error)
}

// FlattenHistory folds records into the single history turn injected
// before a new query.
func FlattenHistory(records []Record) string {
	parts := make([]string, 0, len(records))
	for _, rec := range records {
		parts = append(parts, fmt.Sprintf("user: %s\n\nassistant: %s", rec.Input, rec.Output))
	}
	return strings.Join(parts, "\n\n")
}

func encodeRecord(rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode memory record: %w", err)
	}
	return string(data), nil
}

func decodeRecords(raw []string) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode memory record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
