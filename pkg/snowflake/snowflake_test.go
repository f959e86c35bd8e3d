package snowflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		assert.False(t, seen[id], "duplicate id %d", id)
		assert.Greater(t, id, prev, "ids must be strictly increasing per node")
		seen[id] = true
		prev = id
	}
}

func TestNodeRange(t *testing.T) {
	_, err := NewNode(-1)
	assert.Error(t, err)
	_, err = NewNode(1024)
	assert.Error(t, err)
	_, err = NewNode(1023)
	assert.NoError(t, err)
}
