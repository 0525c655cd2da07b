package config

import (
	"fmt"
	"os"
)

// ResolveAPIKeys scans the environment for numbered provider keys:
// <prefix>_API_KEY_1, <prefix>_API_KEY_2, and so on. Scanning starts at 1
// and stops at the first missing number, so keys must be contiguous.
// Returned order is scan order, which fixes the rotation order of the pool.
func ResolveAPIKeys(prefix string) []string {
	var keys []string
	for i := 1; ; i++ {
		key := os.Getenv(fmt.Sprintf("%s_API_KEY_%d", prefix, i))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	return keys
}
