package sensitive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskFull(t *testing.T) {
	assert.Equal(t, "****", Mask("abcd", FieldConfig{MaskType: MaskFull}))
	// capped at max_mask_length, default 8
	assert.Equal(t, "********", Mask("a-very-long-secret-value", FieldConfig{MaskType: MaskFull}))
	assert.Equal(t, "***", Mask("a-very-long-secret-value", FieldConfig{MaskType: MaskFull, MaxMaskLength: 3}))
	assert.Equal(t, "", Mask("", FieldConfig{MaskType: MaskFull}))
}

func TestMaskPartial(t *testing.T) {
	masked := Mask("supersecrettoken", FieldConfig{MaskType: MaskPartial})

	assert.True(t, strings.HasPrefix(masked, "sup"))
	assert.True(t, strings.HasSuffix(masked, "ken"))
	assert.Contains(t, masked, "*")
	assert.NotEqual(t, "supersecrettoken", masked)

	// tiny values disappear entirely
	assert.Equal(t, "**", Mask("ab", FieldConfig{MaskType: MaskPartial}))
	assert.Equal(t, "*", Mask("a", FieldConfig{MaskType: MaskPartial}))

	// deterministic
	assert.Equal(t, masked, Mask("supersecrettoken", FieldConfig{MaskType: MaskPartial}))
}

func TestMaskPartial_StarRunBounded(t *testing.T) {
	long := strings.Repeat("x", 100)
	masked := Mask(long, FieldConfig{MaskType: MaskPartial})

	assert.LessOrEqual(t, strings.Count(masked, "*"), defaultMaxMaskLength)
	// long values never reveal more than a few characters per end
	assert.LessOrEqual(t, len(masked)-strings.Count(masked, "*"), 2*maxKeepPerEnd)
}

func TestMaskPattern(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		pattern string
		want    string
	}{
		{"username of email", "alice@example.com", "{username}@***", "alice@***"},
		{"last four", "4111111111111234", "****-{last4}", "****-1234"},
		{"value passthrough", "tok", "<{value}>", "<tok>"},
		{"username of non-email is whole value", "plain", "{username}!", "plain!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mask(tt.value, FieldConfig{MaskType: MaskPattern, Pattern: tt.pattern})
			assert.Equal(t, tt.want, got)
		})
	}

	// empty template degrades to a full mask
	assert.Equal(t, "******", Mask("secret", FieldConfig{MaskType: MaskPattern}))
}

func TestParsePath(t *testing.T) {
	segments, err := parsePath("data.accounts[0].token")
	assert.NoError(t, err)
	assert.Equal(t, []segment{
		{key: "data"},
		{key: "accounts"},
		{index: 0, isIndex: true},
		{key: "token"},
	}, segments)

	_, err = parsePath("")
	assert.Error(t, err)

	_, err = parsePath("a[b]")
	assert.Error(t, err)

	_, err = parsePath("a[1")
	assert.Error(t, err)
}

func TestGetSetPath(t *testing.T) {
	doc := map[string]any{
		"data": map[string]any{
			"accounts": []any{
				map[string]any{"token": "tok-1"},
				map[string]any{"token": "tok-2"},
			},
		},
	}

	segments, err := parsePath("data.accounts[1].token")
	assert.NoError(t, err)

	value, ok := getPath(doc, segments)
	assert.True(t, ok)
	assert.Equal(t, "tok-2", value)

	assert.True(t, setPath(doc, segments, "masked"))
	value, _ = getPath(doc, segments)
	assert.Equal(t, "masked", value)

	// absent paths are reported, not invented
	missing, _ := parsePath("data.accounts[9].token")
	_, ok = getPath(doc, missing)
	assert.False(t, ok)
	assert.False(t, setPath(doc, missing, "x"))

	absentKey, _ := parsePath("data.nope")
	assert.False(t, setPath(doc, absentKey, "x"))
}
