// internal/channel/memory.go
package channel

import (
	"context"
	"sync"
)

// Hub is an in-process channel provider. It backs tests and the local match
// simulator, delivering events in order through a per-subscriber pump goroutine so
// senders never run receiver handlers on their own stack.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*memoryChannel]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*memoryChannel]bool)}
}

func (h *Hub) Channel(roomID string) Channel {
	return &memoryChannel{hub: h, roomID: roomID}
}

type inboundEvent struct {
	msg      *Message
	presence *PresenceEvent
}

type memoryChannel struct {
	hub    *Hub
	roomID string

	mu         sync.Mutex
	onMessage  []func(Message)
	onPresence []func(PresenceEvent)
	inbox      chan inboundEvent
	done       chan struct{}
	tracked    string
	subscribed bool
}

func (c *memoryChannel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *memoryChannel) OnPresence(fn func(PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = append(c.onPresence, fn)
}

func (c *memoryChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = true
	c.inbox = make(chan inboundEvent, 64)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.pump()

	c.hub.mu.Lock()
	if c.hub.rooms[c.roomID] == nil {
		c.hub.rooms[c.roomID] = make(map[*memoryChannel]bool)
	}
	c.hub.rooms[c.roomID][c] = true
	c.hub.mu.Unlock()
	return nil
}

func (c *memoryChannel) Track(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.tracked = userID
	c.mu.Unlock()
	c.broadcast(inboundEvent{presence: &PresenceEvent{Kind: PresenceJoin, UserID: userID}})
	return nil
}

func (c *memoryChannel) Send(ctx context.Context, msg Message) error {
	c.broadcast(inboundEvent{msg: &msg})
	return nil
}

func (c *memoryChannel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	if !c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = false
	tracked := c.tracked
	done := c.done
	c.mu.Unlock()

	c.hub.mu.Lock()
	delete(c.hub.rooms[c.roomID], c)
	c.hub.mu.Unlock()

	if tracked != "" {
		c.broadcast(inboundEvent{presence: &PresenceEvent{Kind: PresenceLeave, UserID: tracked}})
	}
	close(done)
	return nil
}

// broadcast delivers to every other subscriber of the room. The sender is skipped,
// matching transports that suppress echo.
func (c *memoryChannel) broadcast(ev inboundEvent) {
	c.hub.mu.Lock()
	peers := make([]*memoryChannel, 0, len(c.hub.rooms[c.roomID]))
	for peer := range c.hub.rooms[c.roomID] {
		if peer != c {
			peers = append(peers, peer)
		}
	}
	c.hub.mu.Unlock()

	for _, peer := range peers {
		select {
		case peer.inbox <- ev:
		default:
			// Receiver too far behind; drop, as a lossy transport would.
		}
	}
}

func (c *memoryChannel) pump() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.inbox:
			c.mu.Lock()
			msgFns := append([]func(Message){}, c.onMessage...)
			presFns := append([]func(PresenceEvent){}, c.onPresence...)
			c.mu.Unlock()
			if ev.msg != nil {
				for _, fn := range msgFns {
					fn(*ev.msg)
				}
			}
			if ev.presence != nil {
				for _, fn := range presFns {
					fn(*ev.presence)
				}
			}
		}
	}
}
