package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Slugify lowercases a display name and replaces runs of
// non-alphanumeric characters with single hyphens.
func Slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	result := make([]byte, 0, len(name))
	lastHyphen := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			result = append(result, c)
			lastHyphen = false
		} else if !lastHyphen {
			result = append(result, '-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(string(result), "-")
}

// RandomSuffix returns n random bytes as lowercase hex, used to
// disambiguate colliding slugs.
func RandomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(b)
}

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// ShortID returns the first 8 characters of an identifier, or the whole
// identifier if it is shorter.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
