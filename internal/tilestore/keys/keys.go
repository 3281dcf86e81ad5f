// Package keys builds the Redis key names used by the tile store.
package keys

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const defaultNamespace = "tileinfo"

// TileInfo is the sorted set holding code -> last refresh (unix ms).
func TileInfo(ns string) string {
	return "tileinfo:" + Namespace(ns)
}

// SeedMarker names the flag recording that this exact code set was seeded.
func SeedMarker(ns, fingerprint string) string {
	return fmt.Sprintf("tileinfo:%s:seeded:%s", Namespace(ns), fingerprint)
}

// Fingerprint hashes a code set independently of order and duplicates.
func Fingerprint(codes []string) string {
	sorted := slices.Clone(codes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	d := xxhash.New()
	for _, c := range sorted {
		_, _ = d.WriteString(c)
		_, _ = d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Namespace normalizes a user supplied namespace into a key-safe token.
func Namespace(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultNamespace
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// ':' is the key separator, so it is replaced too
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
