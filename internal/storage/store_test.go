package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyShape(t *testing.T) {
	key := GenerateKey("input", "png")
	assert.True(t, strings.HasPrefix(key, "input/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	id := strings.TrimSuffix(strings.TrimPrefix(key, "input/"), ".png")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestGenerateKeyNeverRepeats(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := GenerateKey("output", "pdf")
		require.False(t, seen[k])
		seen[k] = true
	}
}
