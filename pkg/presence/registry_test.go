package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinUpdateLeave(t *testing.T) {
	r := NewRegistry()

	r.Add("c1", "alice")
	r.Add("c2", "bob")

	roster := r.List()
	require.Len(t, roster, 2)
	assert.Equal(t, "alice", roster[0].Username)
	assert.Equal(t, "bob", roster[1].Username)

	u, ok := r.UpdateProfile("c1", "", "data:image/png;base64,xxx")
	require.True(t, ok)
	assert.Equal(t, "alice", u.Username, "empty username must not clobber")
	assert.NotEmpty(t, u.Avatar)

	_, ok = r.UpdateProfile("nope", "x", "")
	assert.False(t, ok)

	removed, ok := r.Remove("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", removed.Username)

	// Second removal is a no-op; logout then transport close must not
	// produce a second leave.
	_, ok = r.Remove("c1")
	assert.False(t, ok)

	roster = r.List()
	require.Len(t, roster, 1)
	assert.Equal(t, "c2", roster[0].ID)
}

func TestRejoinKeepsSingleEntry(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", "alice")
	r.Add("c1", "alice2")

	roster := r.List()
	require.Len(t, roster, 1)
	assert.Equal(t, "alice2", roster[0].Username)
}
