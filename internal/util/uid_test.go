package util

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uidPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

func TestNewUID_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		uid := NewUID()
		require.Regexp(t, uidPattern, uid)
		assert.LessOrEqual(t, len(uid), 64, "UID must fit the UI VR")
		assert.Regexp(t, `^2\.25\.[1-9][0-9]*$`, uid, "no leading zero after the root")
	}
}

func TestNewUID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		uid := NewUID()
		require.False(t, seen[uid], "duplicate UID %s", uid)
		seen[uid] = true
	}
}

func TestUIDFromUUID(t *testing.T) {
	u := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	assert.Equal(t, "2.25.10", UIDFromUUID(u))
}

func TestDeterministicUID(t *testing.T) {
	assert.Equal(t, DeterministicUID("series-a"), DeterministicUID("series-a"))
	assert.NotEqual(t, DeterministicUID("series-a"), DeterministicUID("series-b"))
}
