package sensitive

import (
	"math"
	"strings"
)

type MaskType string

const (
	MaskFull    MaskType = "full"
	MaskPartial MaskType = "partial"
	MaskPattern MaskType = "pattern"
)

const (
	defaultMaxMaskLength  = 8
	defaultMaskPercentage = 0.6
	// maxKeepPerEnd caps how much of a long value partial masking reveals.
	maxKeepPerEnd = 4
)

// FieldConfig describes one sensitive field in a tool response.
type FieldConfig struct {
	Path           string   `yaml:"path" json:"path"`
	MaskType       MaskType `yaml:"mask_type" json:"mask_type"`
	Identifier     string   `yaml:"identifier,omitempty" json:"identifier,omitempty"`
	AddFlag        bool     `yaml:"add_flag,omitempty" json:"add_flag,omitempty"`
	Pattern        string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	MaskPercentage float64  `yaml:"mask_percentage,omitempty" json:"mask_percentage,omitempty"`
	MaxMaskLength  int      `yaml:"max_mask_length,omitempty" json:"max_mask_length,omitempty"`
}

// Config is the per-tool sensitive-data contract: which response fields to
// mask, and which request parameters to recover.
type Config struct {
	Response   ResponseConfig `yaml:"response" json:"response"`
	Parameters ParamsConfig   `yaml:"parameters" json:"parameters"`
}

type ResponseConfig struct {
	SensitiveFields []FieldConfig `yaml:"sensitive_fields" json:"sensitive_fields"`
}

type ParamsConfig struct {
	RecoverableFields []string `yaml:"recoverable_fields" json:"recoverable_fields"`
	NestedFields      []string `yaml:"nested_fields" json:"nested_fields"`
}

// Empty reports whether the config masks or recovers anything at all.
func (c Config) Empty() bool {
	return len(c.Response.SensitiveFields) == 0 &&
		len(c.Parameters.RecoverableFields) == 0 &&
		len(c.Parameters.NestedFields) == 0
}

// Mask produces the masked form of value according to the field config.
func Mask(value string, cfg FieldConfig) string {
	switch cfg.MaskType {
	case MaskPartial:
		return maskPartial(value, cfg.MaskPercentage, cfg.MaxMaskLength)
	case MaskPattern:
		return maskPattern(value, cfg.Pattern)
	default:
		return maskFull(value, cfg.MaxMaskLength)
	}
}

func maskFull(value string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxMaskLength
	}
	n := len([]rune(value))
	if n > maxLen {
		n = maxLen
	}
	return strings.Repeat("*", n)
}

// maskPartial keeps a sliver of each end and stars the middle. Roughly one
// character per end survives, a bit more for longer values, never more than
// maxKeepPerEnd; the star run is bounded by maxLen.
func maskPartial(value string, pct float64, maxLen int) string {
	if pct <= 0 || pct >= 1 {
		pct = defaultMaskPercentage
	}
	if maxLen <= 0 {
		maxLen = defaultMaxMaskLength
	}

	runes := []rune(value)
	n := len(runes)
	if n <= 2 {
		return strings.Repeat("*", n)
	}

	keep := int(math.Round(float64(n) * (1 - pct) / 2))
	if keep < 1 {
		keep = 1
	}
	if keep > maxKeepPerEnd {
		keep = maxKeepPerEnd
	}
	if 2*keep >= n {
		keep = (n - 1) / 2
	}

	stars := n - 2*keep
	if stars > maxLen {
		stars = maxLen
	}
	if stars < 1 {
		stars = 1
	}

	return string(runes[:keep]) + strings.Repeat("*", stars) + string(runes[n-keep:])
}

// maskPattern substitutes {value}, {username} (local part of an email) and
// {last4} (last four characters) into the template.
func maskPattern(value, pattern string) string {
	if pattern == "" {
		return maskFull(value, 0)
	}

	username := value
	if at := strings.Index(value, "@"); at >= 0 {
		username = value[:at]
	}

	last4 := value
	if runes := []rune(value); len(runes) > 4 {
		last4 = string(runes[len(runes)-4:])
	}

	out := strings.ReplaceAll(pattern, "{value}", value)
	out = strings.ReplaceAll(out, "{username}", username)
	out = strings.ReplaceAll(out, "{last4}", last4)
	return out
}
