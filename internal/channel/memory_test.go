// internal/channel/memory_test.go
package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []Message
	presence []PresenceEvent
}

func (r *recorder) hook(c Channel) {
	c.OnMessage(func(m Message) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, m)
	})
	c.OnPresence(func(p PresenceEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.presence = append(r.presence, p)
	})
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) presenceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presence)
}

func TestHubDeliversToPeersOnly(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()

	host := hub.Channel("room-1")
	guest := hub.Channel("room-1")
	other := hub.Channel("room-2")

	var hostRec, guestRec, otherRec recorder
	hostRec.hook(host)
	guestRec.hook(guest)
	otherRec.hook(other)

	require.NoError(t, host.Subscribe(ctx))
	require.NoError(t, guest.Subscribe(ctx))
	require.NoError(t, other.Subscribe(ctx))

	require.NoError(t, host.Send(ctx, Message{Event: EventScoreUpdate, UserID: "h", Score: 120}))

	assert.Eventually(t, func() bool { return guestRec.messageCount() == 1 }, time.Second, 5*time.Millisecond)
	guestRec.mu.Lock()
	assert.Equal(t, EventScoreUpdate, guestRec.messages[0].Event)
	assert.Equal(t, 120, guestRec.messages[0].Score)
	guestRec.mu.Unlock()

	// Sender does not hear its own broadcast; other rooms hear nothing.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hostRec.messageCount())
	assert.Zero(t, otherRec.messageCount())
}

func TestHubPresenceJoinAndLeave(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()

	host := hub.Channel("room-1")
	guest := hub.Channel("room-1")

	var hostRec recorder
	hostRec.hook(host)

	require.NoError(t, host.Subscribe(ctx))
	require.NoError(t, guest.Subscribe(ctx))
	require.NoError(t, guest.Track(ctx, "guest-id"))

	assert.Eventually(t, func() bool { return hostRec.presenceCount() == 1 }, time.Second, 5*time.Millisecond)
	hostRec.mu.Lock()
	assert.Equal(t, PresenceJoin, hostRec.presence[0].Kind)
	assert.Equal(t, "guest-id", hostRec.presence[0].UserID)
	hostRec.mu.Unlock()

	require.NoError(t, guest.Unsubscribe(ctx))
	assert.Eventually(t, func() bool { return hostRec.presenceCount() == 2 }, time.Second, 5*time.Millisecond)
	hostRec.mu.Lock()
	assert.Equal(t, PresenceLeave, hostRec.presence[1].Kind)
	hostRec.mu.Unlock()
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	c := hub.Channel("room-1")
	require.NoError(t, c.Subscribe(ctx))
	require.NoError(t, c.Unsubscribe(ctx))
	require.NoError(t, c.Unsubscribe(ctx))
}
