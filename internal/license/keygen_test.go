package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "ACP-"))
	assert.Len(t, key, len("ACP")+4*(1+5))
	assert.True(t, ValidKeyFormat(key), "generated key must pass format validation: %s", key)
}

func TestGenerateKeyUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		require.False(t, seen[key], "duplicate key generated: %s", key)
		seen[key] = true
	}
}

func TestGenerateKeyAlphabet(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	for _, seg := range strings.Split(key, "-")[1:] {
		for _, c := range seg {
			assert.Contains(t, keyAlphabet, string(c))
			// The alphabet deliberately excludes ambiguous characters.
			assert.NotContains(t, "ILOU", string(c))
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already normalized", "ACP-7F3KQ-9M2XW-AB1CD-EF2GH", "ACP-7F3KQ-9M2XW-AB1CD-EF2GH"},
		{"lowercase", "acp-7f3kq-9m2xw-ab1cd-ef2gh", "ACP-7F3KQ-9M2XW-AB1CD-EF2GH"},
		{"surrounding whitespace", "  ACP-7F3KQ-9M2XW-AB1CD-EF2GH  ", "ACP-7F3KQ-9M2XW-AB1CD-EF2GH"},
		{"internal spaces", "ACP 7F3KQ 9M2XW", "ACP7F3KQ9M2XW"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.input))
		})
	}
}

func TestValidKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid key", "ACP-7F3KQ-9M2XW-AB1CD-EF2GH", true},
		{"valid lowercase", "acp-7f3kq-9m2xw-ab1cd-ef2gh", true},
		{"legacy manual key", "LIC-20240101-0042", true},
		{"legacy prefix only", "LIC-", false},
		{"wrong prefix", "XYZ-7F3KQ-9M2XW-AB1CD-EF2GH", false},
		{"missing segment", "ACP-7F3KQ-9M2XW-AB1CD", false},
		{"short segment", "ACP-7F3K-9M2XW-AB1CD-EF2GH", false},
		{"ambiguous character", "ACP-7F3KO-9M2XW-AB1CD-EF2GH", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidKeyFormat(tt.key))
		})
	}
}
