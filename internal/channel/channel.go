// internal/channel/channel.go
package channel

import (
	"context"
	"errors"
)

// Event names carried over a room channel.
const (
	EventScoreUpdate = "score_update"
	EventFinalScore  = "final_score"
	EventGameStart   = "game_start"
	EventMiss        = "sudden_death_miss"
	EventEmoji       = "emoji"
)

// ErrSubscribeFailed wraps any failure to establish a room channel. It is fatal to
// starting a session.
var ErrSubscribeFailed = errors.New("channel subscription failed")

// Message is one broadcast event. UserID identifies the sender; receivers drop their
// own messages, since transports may echo them back.
type Message struct {
	Event     string `json:"event"`
	UserID    string `json:"user_id,omitempty"`
	Score     int    `json:"score,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
}

// PresenceKind marks a participant appearing on or leaving a channel.
type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent reports a liveness change for one participant.
type PresenceEvent struct {
	Kind   PresenceKind `json:"kind"`
	UserID string       `json:"user_id"`
}

// Channel is a bidirectional broadcast plus presence primitive scoped to one room.
// Handlers must be registered before Subscribe; they are invoked one event at a time.
type Channel interface {
	OnMessage(fn func(Message))
	OnPresence(fn func(PresenceEvent))

	// Subscribe connects and starts delivery. Failure is ErrSubscribeFailed.
	Subscribe(ctx context.Context) error

	// Track announces this participant's liveness to the room.
	Track(ctx context.Context, userID string) error

	// Send broadcasts msg to the room. Best effort once subscribed.
	Send(ctx context.Context, msg Message) error

	// Unsubscribe announces departure and stops delivery. Safe to call twice.
	Unsubscribe(ctx context.Context) error
}

// Provider hands out a channel per room id.
type Provider interface {
	Channel(roomID string) Channel
}
