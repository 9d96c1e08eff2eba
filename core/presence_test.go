package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceJoinLeave(t *testing.T) {
	t.Run("join then leave", func(t *testing.T) {
		p := NewPresence()

		p.Join("alice__bob", "alice")
		assert.True(t, p.Contains("alice__bob", "alice"))
		assert.Contains(t, p.MembersOf("alice__bob"), "alice")

		p.Leave("alice__bob", "alice")
		assert.False(t, p.Contains("alice__bob", "alice"))
		assert.NotContains(t, p.MembersOf("alice__bob"), "alice")
	})

	t.Run("join is idempotent", func(t *testing.T) {
		p := NewPresence()

		p.Join("alice__bob", "alice")
		p.Join("alice__bob", "alice")

		assert.Len(t, p.MembersOf("alice__bob"), 1)
	})

	t.Run("leave of absent room or user is a no-op", func(t *testing.T) {
		p := NewPresence()

		p.Leave("alice__bob", "alice")
		assert.Empty(t, p.MembersOf("alice__bob"))

		p.Join("alice__bob", "alice")
		p.Leave("alice__bob", "bob")
		assert.True(t, p.Contains("alice__bob", "alice"))
	})

	t.Run("members of unknown room is empty, not nil", func(t *testing.T) {
		p := NewPresence()
		assert.NotNil(t, p.MembersOf("nope__nope"))
		assert.Empty(t, p.MembersOf("nope__nope"))
	})

	t.Run("rooms are independent", func(t *testing.T) {
		p := NewPresence()

		p.Join("alice__bob", "alice")
		p.Join("alice__carol", "carol")

		assert.False(t, p.Contains("alice__bob", "carol"))
		assert.False(t, p.Contains("alice__carol", "alice"))
	})
}

func TestPresenceConcurrency(t *testing.T) {
	t.Run("membership survives interleaved join and leave of other users", func(t *testing.T) {
		p := NewPresence()
		roomID := "alice__bob"
		p.Join(roomID, "alice")

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user := fmt.Sprintf("user-%d", i)
				p.Join(roomID, user)
				assert.True(t, p.Contains(roomID, user))
				// Snapshot iteration must be safe against concurrent mutation.
				p.MembersOf(roomID)
				p.Leave(roomID, user)
			}(i)
		}
		wg.Wait()

		members := p.MembersOf(roomID)
		assert.Equal(t, []string{"alice"}, members)
	})

	t.Run("concurrent joins all land", func(t *testing.T) {
		p := NewPresence()
		roomID := "alice__bob"

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p.Join(roomID, fmt.Sprintf("user-%d", i))
			}(i)
		}
		wg.Wait()

		assert.Len(t, p.MembersOf(roomID), 50)
	})
}
