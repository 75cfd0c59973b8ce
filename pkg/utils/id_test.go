package utils

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIDIsUniqueHex(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := GenerateID()
		assert.Regexp(t, `^[0-9a-f]{32}$`, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGenerateIDSortsByCreation(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = GenerateID()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestTurnID(t *testing.T) {
	assert.Len(t, TurnID(), 8)
	assert.NotEqual(t, TurnID(), TurnID())
}
