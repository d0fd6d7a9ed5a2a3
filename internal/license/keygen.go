package license

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// License key format: ACP-XXXXX-XXXXX-XXXXX-XXXXX. Each segment is five
// characters drawn uniformly from a 32-character alphabet, giving 25 bits of
// entropy per segment (100 bits total) so keys cannot be guessed.
const (
	KeyPrefix      = "ACP"
	keySegments    = 4
	keySegmentLen  = 5
	// Crockford-style alphabet without the ambiguous I, L, O, U.
	keyAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// GenerateKey returns a fresh license key such as ACP-7F3KQ-9M2XW-...
func GenerateKey() (string, error) {
	buf := make([]byte, keySegments*keySegmentLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}

	parts := make([]string, 0, keySegments+1)
	parts = append(parts, KeyPrefix)
	for s := 0; s < keySegments; s++ {
		seg := make([]byte, keySegmentLen)
		for i := 0; i < keySegmentLen; i++ {
			// 32-character alphabet: masking to 5 bits keeps the draw uniform.
			seg[i] = keyAlphabet[buf[s*keySegmentLen+i]&0x1f]
		}
		parts = append(parts, string(seg))
	}
	return strings.Join(parts, "-"), nil
}

// NormalizeKey uppercases a key and strips spaces so user-typed input with
// stray whitespace still matches the stored form.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(key, " ", "")))
}

// ValidKeyFormat reports whether key looks like an issued license key.
// Historical keys issued by the manual tooling (LIC-... form) are accepted
// as well since they exist in the wild.
func ValidKeyFormat(key string) bool {
	key = NormalizeKey(key)
	if strings.HasPrefix(key, "LIC-") {
		return len(key) > len("LIC-")
	}

	segs := strings.Split(key, "-")
	if len(segs) != keySegments+1 || segs[0] != KeyPrefix {
		return false
	}
	for _, seg := range segs[1:] {
		if len(seg) != keySegmentLen {
			return false
		}
		for _, c := range seg {
			if !strings.ContainsRune(keyAlphabet, c) {
				return false
			}
		}
	}
	return true
}
