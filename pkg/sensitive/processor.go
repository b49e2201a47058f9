package sensitive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultTTL is the shared lifetime of a conversation's mappings.
	DefaultTTL = 7 * 24 * time.Hour

	identifierPrefix = "__SENSITIVE_DATA_"
	identifierSuffix = "__"
)

// Processor masks configured fields in tool responses and recovers masked
// parameters on the way back out. All mappings are conversation-scoped.
//
// Lookup misses are never fatal: a value that cannot be recovered flows
// through unchanged.
type Processor struct {
	store MappingStore
	ttl   time.Duration
}

func NewProcessor(store MappingStore, ttl time.Duration) *Processor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Processor{store: store, ttl: ttl}
}

func forwardKey(conversationID string) string {
	return "sensitive_data:" + conversationID
}

func reverseKey(conversationID string) string {
	return "sensitive_data_reverse:" + conversationID
}

// Identifier builds the model-facing placeholder for a sensitive value.
func Identifier(conversationID, tag string) string {
	return identifierPrefix + conversationID + "_" + tag + identifierSuffix
}

func isIdentifier(s string) bool {
	return strings.HasPrefix(s, identifierPrefix) && strings.HasSuffix(s, identifierSuffix)
}

// tagFor derives the identifier tag: the caller-supplied binding key when
// present, else the first 16 hex characters of the value's SHA-256.
func tagFor(cfg FieldConfig, original string) string {
	if cfg.Identifier != "" {
		return cfg.Identifier
	}
	sum := sha256.Sum256([]byte(original))
	return hex.EncodeToString(sum[:])[:16]
}

func serializeOriginal(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize sensitive value: %w", err)
	}
	return string(data), nil
}

func deserializeOriginal(stored string) any {
	var value any
	if err := json.Unmarshal([]byte(stored), &value); err != nil {
		return stored
	}
	return value
}

// MaskResponse rewrites the configured field paths of a decoded tool
// response in place and records both mappings for later recovery. Absent
// paths are skipped. The returned value is the same root that was passed
// in.
func (p *Processor) MaskResponse(ctx context.Context, conversationID string, response any, fields []FieldConfig) (any, error) {
	if len(fields) == 0 {
		return response, nil
	}

	masked := false
	for _, cfg := range fields {
		segments, err := parsePath(cfg.Path)
		if err != nil {
			return nil, err
		}

		raw, ok := getPath(response, segments)
		if !ok {
			continue
		}

		original, err := serializeOriginal(raw)
		if err != nil {
			return nil, err
		}

		tag := tagFor(cfg, original)
		identifier := Identifier(conversationID, tag)
		maskedValue := Mask(original, cfg)

		if err := p.store.HSet(ctx, forwardKey(conversationID), identifier, original); err != nil {
			return nil, err
		}
		if err := p.store.HSet(ctx, reverseKey(conversationID), maskedValue, original); err != nil {
			return nil, err
		}
		masked = true

		var replacement any = maskedValue
		if cfg.AddFlag {
			flagged := map[string]any{
				"__sensitive": true,
				"value":       maskedValue,
			}
			if cfg.Identifier != "" {
				flagged["__binding_key"] = cfg.Identifier
			}
			replacement = flagged
		}

		if !setPath(response, segments, replacement) {
			slog.Warn("Could not rewrite sensitive field", "path", cfg.Path)
		}
	}

	if masked {
		if err := p.store.Expire(ctx, forwardKey(conversationID), p.ttl); err != nil {
			return nil, err
		}
		if err := p.store.Expire(ctx, reverseKey(conversationID), p.ttl); err != nil {
			return nil, err
		}
	}

	return response, nil
}

// RecoverValue resolves a possibly-masked parameter back to its original.
// The chain: flagged-object binding key, stored identifier, exact reverse
// lookup, fully-masked length match, prefix+suffix match around star runs,
// star-dash-last-four match. On ambiguity the first stored candidate (in
// sorted masked-value order) wins; binding keys are the certainty
// mechanism. A miss returns the input unchanged.
func (p *Processor) RecoverValue(ctx context.Context, conversationID string, value any) (any, bool) {
	if flagged, ok := value.(map[string]any); ok {
		if isTrue(flagged["__sensitive"]) {
			if key, ok := flagged["__binding_key"].(string); ok && key != "" {
				identifier := Identifier(conversationID, key)
				if stored, hit, err := p.store.HGet(ctx, forwardKey(conversationID), identifier); err == nil && hit {
					return deserializeOriginal(stored), true
				}
			}
			if masked, ok := flagged["value"].(string); ok {
				return p.recoverString(ctx, conversationID, masked)
			}
		}
		return value, false
	}

	s, ok := value.(string)
	if !ok {
		return value, false
	}
	return p.recoverString(ctx, conversationID, s)
}

func (p *Processor) recoverString(ctx context.Context, conversationID, s string) (any, bool) {
	if isIdentifier(s) {
		if stored, hit, err := p.store.HGet(ctx, forwardKey(conversationID), s); err == nil && hit {
			return deserializeOriginal(stored), true
		}
		return s, false
	}

	if stored, hit, err := p.store.HGet(ctx, reverseKey(conversationID), s); err == nil && hit {
		return deserializeOriginal(stored), true
	}

	if !strings.Contains(s, "*") {
		return s, false
	}

	mappings, err := p.store.HGetAll(ctx, reverseKey(conversationID))
	if err != nil || len(mappings) == 0 {
		return s, false
	}

	maskedValues := make([]string, 0, len(mappings))
	for masked := range mappings {
		maskedValues = append(maskedValues, masked)
	}
	sort.Strings(maskedValues)

	if isAllStars(s) {
		for _, masked := range maskedValues {
			if isAllStars(masked) && lengthComparable(len(s), len(masked)) {
				return deserializeOriginal(mappings[masked]), true
			}
		}
	}

	prefix := s[:strings.Index(s, "*")]
	suffix := s[strings.LastIndex(s, "*")+1:]
	if prefix != "" || suffix != "" {
		for _, masked := range maskedValues {
			original := mappings[masked]
			if len(original) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(original, prefix) &&
				strings.HasSuffix(original, suffix) {
				return deserializeOriginal(mappings[masked]), true
			}
		}
	}

	if last4, ok := starLastFour(s); ok {
		for _, masked := range maskedValues {
			if strings.HasSuffix(mappings[masked], last4) {
				return deserializeOriginal(mappings[masked]), true
			}
		}
	}

	return s, false
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func isAllStars(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch != '*' {
			return false
		}
	}
	return true
}

func lengthComparable(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 2
}

// starLastFour matches the `****-dddd` shape and extracts the four digits.
func starLastFour(s string) (string, bool) {
	if len(s) < 5 || !strings.HasSuffix(s[:len(s)-4], "-") {
		return "", false
	}
	head := s[:len(s)-5]
	if !isAllStars(head) {
		return "", false
	}
	tail := s[len(s)-4:]
	for _, ch := range tail {
		if ch < '0' || ch > '9' {
			return "", false
		}
	}
	return tail, true
}

// RecoverBucket recovers a flat parameter bucket per key: keys declared
// recoverable and flagged-object values are resolved, everything else is
// left alone.
func (p *Processor) RecoverBucket(ctx context.Context, conversationID string, bucket map[string]any, recoverable []string) {
	if len(bucket) == 0 {
		return
	}

	wanted := make(map[string]bool, len(recoverable))
	for _, name := range recoverable {
		wanted[name] = true
	}

	for key, value := range bucket {
		_, flagged := value.(map[string]any)
		if !wanted[key] && !flagged {
			continue
		}
		if recovered, ok := p.RecoverValue(ctx, conversationID, value); ok {
			bucket[key] = recovered
		}
	}
}

// RecoverNested recovers the configured nested paths of a body bucket
// structurally.
func (p *Processor) RecoverNested(ctx context.Context, conversationID string, body map[string]any, paths []string) {
	for _, path := range paths {
		segments, err := parsePath(path)
		if err != nil {
			slog.Warn("Invalid nested field path", "path", path, "error", err)
			continue
		}
		value, ok := getPath(body, segments)
		if !ok {
			continue
		}
		if recovered, hit := p.RecoverValue(ctx, conversationID, value); hit {
			setPath(body, segments, recovered)
		}
	}
}

// Cleanup removes both mapping hashes for the conversation.
func (p *Processor) Cleanup(ctx context.Context, conversationID string) error {
	return p.store.Delete(ctx, forwardKey(conversationID), reverseKey(conversationID))
}
