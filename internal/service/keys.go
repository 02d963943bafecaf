package service

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// hashToken keeps bearer-like handles (tickets, keys) out of Redis key names.
func hashToken(v string) string {
	sum := blake2b.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}

func normalizeToken(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, v)
}
