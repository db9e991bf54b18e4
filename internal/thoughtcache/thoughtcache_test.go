package thoughtcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRetrieve_RoundTrip(t *testing.T) {
	c := New(time.Hour, 100)

	c.Store(map[string]string{"tc1": "sig-1"}, []string{"tc1"}, "conv-a")

	got, ok := c.Retrieve([]string{"tc1"}, "conv-a")
	require.True(t, ok)
	require.Equal(t, "sig-1", got["tc1"])
}

func TestRetrieve_EmptyToolCallIDsMisses(t *testing.T) {
	c := New(time.Hour, 100)
	c.Store(map[string]string{"tc1": "sig-1"}, []string{"tc1"}, "")

	_, ok := c.Retrieve(nil, "")
	require.False(t, ok)
}

func TestRetrieve_ConversationScoping(t *testing.T) {
	c := New(time.Hour, 100)
	c.Store(map[string]string{"tc1": "sig-1"}, []string{"tc1"}, "conv-a")

	_, ok := c.Retrieve([]string{"tc1"}, "conv-b")
	require.False(t, ok, "entry scoped to conv-a should not surface for conv-b")

	_, ok = c.Retrieve([]string{"tc1"}, "")
	require.True(t, ok, "unscoped lookup should still find it")
}

// TestRetrieve_GreatestOverlapWins pins spec P10: when multiple entries
// share a tool-call id, the one overlapping toolCallIDs most wins, not the
// most recently stored one, unless overlap is tied.
func TestRetrieve_GreatestOverlapWins(t *testing.T) {
	c := New(time.Hour, 100)

	c.Store(map[string]string{"tc1": "sig-full", "tc2": "sig-full-2"}, []string{"tc1", "tc2"}, "")
	c.Store(map[string]string{"tc1": "sig-partial"}, []string{"tc1"}, "")

	got, ok := c.Retrieve([]string{"tc1", "tc2"}, "")
	require.True(t, ok)
	require.Equal(t, "sig-full", got["tc1"])
	require.Equal(t, "sig-full-2", got["tc2"])
}

func TestRetrieve_TieBreaksOnMostRecent(t *testing.T) {
	c := New(time.Hour, 100)

	c.Store(map[string]string{"tc1": "sig-old"}, []string{"tc1"}, "")
	time.Sleep(2 * time.Millisecond)
	c.Store(map[string]string{"tc1": "sig-new"}, []string{"tc1"}, "")

	got, ok := c.Retrieve([]string{"tc1"}, "")
	require.True(t, ok)
	require.Equal(t, "sig-new", got["tc1"])
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	c := New(time.Millisecond, 100)
	c.Store(map[string]string{"tc1": "sig-1"}, []string{"tc1"}, "conv-a")

	time.Sleep(5 * time.Millisecond)
	c.Sweep()

	_, ok := c.Retrieve([]string{"tc1"}, "conv-a")
	require.False(t, ok)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.entries)
	require.Empty(t, c.byToolCallID)
	require.Empty(t, c.byConversation)
}

func TestStore_IgnoresEmptyArtifactsOrIDs(t *testing.T) {
	c := New(time.Hour, 100)
	c.Store(nil, []string{"tc1"}, "conv-a")
	c.Store(map[string]string{"tc1": "sig-1"}, nil, "conv-a")

	_, ok := c.Retrieve([]string{"tc1"}, "conv-a")
	require.False(t, ok)
}

func TestEvictOldest_BoundsEntryCount(t *testing.T) {
	c := New(time.Hour, 10)

	for i := 0; i < 15; i++ {
		id := string(rune('a' + i))
		c.Store(map[string]string{id: "sig"}, []string{id}, "")
	}

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	require.LessOrEqual(t, n, 10)
}
