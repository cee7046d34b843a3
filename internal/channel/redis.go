// internal/channel/redis.go
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisProvider scopes channels onto Redis pub/sub, one topic per room. Presence is
// cooperative: Track publishes a join frame and Unsubscribe a leave frame, which is
// all the two-player protocol needs to detect an opponent vanishing.
type RedisProvider struct {
	rdb *redis.Client
	log *logrus.Logger
}

func NewRedisProvider(rdb *redis.Client, log *logrus.Logger) *RedisProvider {
	return &RedisProvider{rdb: rdb, log: log}
}

func (p *RedisProvider) Channel(roomID string) Channel {
	return &redisChannel{
		rdb:   p.rdb,
		log:   p.log,
		topic: "room:" + roomID,
	}
}

// frame is the wire envelope shared by the broker transports.
type frame struct {
	Kind     string         `json:"kind"` // "message" or "presence"
	Message  *Message       `json:"message,omitempty"`
	Presence *PresenceEvent `json:"presence,omitempty"`
}

type redisChannel struct {
	rdb   *redis.Client
	log   *logrus.Logger
	topic string

	mu         sync.Mutex
	onMessage  []func(Message)
	onPresence []func(PresenceEvent)
	sub        *redis.PubSub
	cancel     context.CancelFunc
	tracked    string
}

func (c *redisChannel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *redisChannel) OnPresence(fn func(PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = append(c.onPresence, fn)
}

func (c *redisChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	sub := c.rdb.Subscribe(ctx, c.topic)
	// Force the SUBSCRIBE round trip so connection failures surface here, not on
	// first receive.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}
	c.sub = sub

	readCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(readCtx, sub.Channel())
	return nil
}

func (c *redisChannel) Track(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.tracked = userID
	c.mu.Unlock()
	return c.publish(ctx, frame{Kind: "presence", Presence: &PresenceEvent{Kind: PresenceJoin, UserID: userID}})
}

func (c *redisChannel) Send(ctx context.Context, msg Message) error {
	return c.publish(ctx, frame{Kind: "message", Message: &msg})
}

func (c *redisChannel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	sub := c.sub
	cancel := c.cancel
	tracked := c.tracked
	c.sub = nil
	c.cancel = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	if tracked != "" {
		// Best effort: peers treat the leave frame like a presence timeout.
		if err := c.publish(ctx, frame{Kind: "presence", Presence: &PresenceEvent{Kind: PresenceLeave, UserID: tracked}}); err != nil {
			c.log.Warnf("failed to publish leave presence on %s: %v", c.topic, err)
		}
	}
	cancel()
	return sub.Close()
}

func (c *redisChannel) publish(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.topic, err)
	}
	return nil
}

func (c *redisChannel) readLoop(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var f frame
			if err := json.Unmarshal([]byte(raw.Payload), &f); err != nil {
				c.log.Warnf("invalid frame on %s: %v", c.topic, err)
				continue
			}
			c.dispatch(f)
		}
	}
}

func (c *redisChannel) dispatch(f frame) {
	c.mu.Lock()
	msgFns := append([]func(Message){}, c.onMessage...)
	presFns := append([]func(PresenceEvent){}, c.onPresence...)
	tracked := c.tracked
	c.mu.Unlock()

	switch {
	case f.Kind == "message" && f.Message != nil:
		for _, fn := range msgFns {
			fn(*f.Message)
		}
	case f.Kind == "presence" && f.Presence != nil:
		// Redis echoes our own frames back; self presence is noise.
		if f.Presence.UserID == tracked {
			return
		}
		for _, fn := range presFns {
			fn(*f.Presence)
		}
	}
}
