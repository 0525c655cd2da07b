package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAPIKeys(t *testing.T) {
	t.Run("contiguous keys resolved in order", func(t *testing.T) {
		t.Setenv("SCANTEST_API_KEY_1", "key-one")
		t.Setenv("SCANTEST_API_KEY_2", "key-two")
		t.Setenv("SCANTEST_API_KEY_3", "key-three")

		keys := ResolveAPIKeys("SCANTEST")
		assert.Equal(t, []string{"key-one", "key-two", "key-three"}, keys)
	})

	t.Run("scan stops at first gap", func(t *testing.T) {
		t.Setenv("GAPTEST_API_KEY_1", "key-one")
		t.Setenv("GAPTEST_API_KEY_3", "key-three")

		keys := ResolveAPIKeys("GAPTEST")
		assert.Equal(t, []string{"key-one"}, keys)
	})

	t.Run("no keys returns empty", func(t *testing.T) {
		keys := ResolveAPIKeys("NOSUCHPREFIX")
		assert.Empty(t, keys)
	})
}
