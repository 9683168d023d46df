package cache

import (
	"fmt"
	"strings"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// TrimKey strips prefix from a key produced by GenerateKey.
func TrimKey(prefix string, key string) string {
	return strings.TrimPrefix(key, prefix+":")
}

// BuildPattern creates a Redis pattern for key matching.
func BuildPattern(prefix string) string {
	return fmt.Sprintf("%s:*", prefix)
}
