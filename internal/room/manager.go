// internal/room/manager.go
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/uta1508/NeonType/internal/channel"
	"github.com/uta1508/NeonType/internal/identity"
	"github.com/uta1508/NeonType/internal/models"
	"github.com/uta1508/NeonType/internal/store"
)

var (
	// ErrRoomNotFound means no waiting room matched the join code, or the guest
	// slot was claimed first.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNoRoomAvailable means the public pool had no open room.
	ErrNoRoomAvailable = errors.New("no public room available")
	// ErrNoOpponent rejects a ready toggle before a guest has joined.
	ErrNoOpponent = errors.New("no opponent has joined yet")
	// ErrNotInRoom rejects room operations outside a room.
	ErrNotInRoom = errors.New("not in a room")
)

// pollInterval is the reliability-fallback poll cadence while a room is waiting.
const pollInterval = time.Second

// EventKind enumerates the lifecycle signals delivered to the session layer.
type EventKind int

const (
	// EventGuestJoined fires host-side when the guest slot fills.
	EventGuestJoined EventKind = iota
	// EventGuestLeft fires host-side when the guest slot empties during waiting.
	EventGuestLeft
	// EventReadyChanged fires when either ready flag flips.
	EventReadyChanged
	// EventBothReady fires once when both ready flags are observed true while the
	// room is still waiting. The session drives the synchronized start from it.
	EventBothReady
	// EventStatusChanged fires on any other status transition.
	EventStatusChanged
	// EventPromoted fires after a successful host-migration promotion; Room is the
	// replacement room.
	EventPromoted
	// EventOpponentDisconnected relays a presence leave for the opponent; Room is
	// the snapshot at that moment, so the session can tell lobby from mid-match.
	EventOpponentDisconnected
	// EventClosed means the session is over from the manager's side: the room
	// vanished and promotion was impossible or failed.
	EventClosed
)

// Event is one typed lifecycle notification.
type Event struct {
	Kind   EventKind
	Room   *models.Room
	Reason string
}

// Manager owns the shared room record for the local client: creation, discovery,
// joining, the readiness handshake, monitoring, host migration and teardown. It is
// the sole writer of the room's lifecycle fields.
type Manager struct {
	store    store.RoomStore
	channels channel.Provider
	self     *identity.Identity
	log      *logrus.Logger
	clock    clockwork.Clock

	mu            sync.Mutex
	room          *models.Room
	isHost        bool
	channel       channel.Channel
	handler       func(Event)
	msgHandler    func(channel.Message)
	stopPoll      chan struct{}
	unsubStore    func()
	startSignaled bool
	rand          *rand.Rand
}

func NewManager(st store.RoomStore, channels channel.Provider, self *identity.Identity, log *logrus.Logger, clock clockwork.Clock) *Manager {
	return &Manager{
		store:    st,
		channels: channels,
		self:     self,
		log:      log,
		clock:    clock,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetEventHandler registers the single lifecycle-event sink. Must be set before
// creating or joining a room.
func (m *Manager) SetEventHandler(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// SetMessageHandler registers the sink for broadcast messages on the room channel.
// Must be set before creating or joining a room; it is re-attached across migration.
func (m *Manager) SetMessageHandler(fn func(channel.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgHandler = fn
}

// Room returns a snapshot of the current room, or nil.
func (m *Manager) Room() *models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room.Clone()
}

// IsHost reports the local role. It flips to true on promotion.
func (m *Manager) IsHost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isHost
}

// SelfID returns the local participant id.
func (m *Manager) SelfID() string {
	return m.self.ID
}

// CreateRoom inserts a fresh waiting room with a random join code and sequence
// seed, assumes the host role, opens the realtime channel and starts monitoring.
func (m *Manager) CreateRoom(ctx context.Context, mode models.GameMode, difficulty string, duration int, public bool) (*models.Room, error) {
	return m.createRoom(ctx, m.generateCode(), mode, difficulty, duration, public)
}

func (m *Manager) createRoom(ctx context.Context, code string, mode models.GameMode, difficulty string, duration int, public bool) (*models.Room, error) {
	room := &models.Room{
		Code:       code,
		Public:     public,
		Status:     models.StatusWaiting,
		HostID:     m.self.ID,
		HostName:   m.self.Name,
		Mode:       mode,
		Difficulty: difficulty,
		Duration:   duration,
		Seed:       m.generateSeed(),
	}

	inserted, err := m.store.Insert(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	if err := m.enterRoom(ctx, inserted, true); err != nil {
		// The room is unusable without its channel; take it back out of the pool.
		if delErr := m.store.Delete(ctx, inserted.ID); delErr != nil {
			m.log.Warnf("failed to delete room %s after channel failure: %v", inserted.ID, delErr)
		}
		return nil, err
	}

	m.log.Infof("created room %s (code %s) as host", inserted.ID, inserted.Code)
	return inserted.Clone(), nil
}

// FindRoomByCode looks up a waiting room without joining it. Used by the lobby UI
// and to re-validate a room before migration.
func (m *Manager) FindRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	room, err := m.store.FindWaitingByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up room: %w", err)
	}
	return room, nil
}

// JoinByCode claims the guest slot of the waiting room with the given code. The
// claim is atomic at the store; losing a join race surfaces as ErrRoomNotFound.
func (m *Manager) JoinByCode(ctx context.Context, code string) (*models.Room, error) {
	open, err := m.store.FindJoinable(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up room: %w", err)
	}

	claimed, err := m.store.ClaimGuest(ctx, open.ID, m.self.ID, m.self.Name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	if err := m.enterRoom(ctx, claimed, false); err != nil {
		if _, clrErr := m.store.Update(ctx, claimed.ID, store.Fields{
			"guest_id": nil, "guest_name": nil, "guest_ready": false,
		}); clrErr != nil {
			m.log.Warnf("failed to release guest slot of %s after channel failure: %v", claimed.ID, clrErr)
		}
		return nil, err
	}

	m.log.Infof("joined room %s (code %s) as guest", claimed.ID, claimed.Code)
	return claimed.Clone(), nil
}

// JoinRandomPublic picks one open public room and joins it.
func (m *Manager) JoinRandomPublic(ctx context.Context) (*models.Room, error) {
	open, err := m.store.FindPublicWaiting(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoRoomAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up public rooms: %w", err)
	}
	return m.JoinByCode(ctx, open.Code)
}

// ToggleReady flips the caller's own ready flag. Rejected until a guest is present,
// since the handshake is meaningless alone.
func (m *Manager) ToggleReady(ctx context.Context) error {
	m.mu.Lock()
	room := m.room.Clone()
	isHost := m.isHost
	m.mu.Unlock()

	if room == nil {
		return ErrNotInRoom
	}
	if !room.HasGuest() {
		return ErrNoOpponent
	}

	field, current := "guest_ready", room.GuestReady
	if isHost {
		field, current = "host_ready", room.HostReady
	}
	if _, err := m.store.Update(ctx, room.ID, store.Fields{field: !current}); err != nil {
		return fmt.Errorf("failed to toggle ready: %w", err)
	}
	return nil
}

// Leave tears down monitoring and the channel synchronously, then mutates the store
// by role and phase: a guest leaving a waiting room releases the guest slot, a host
// always deletes the room, and anyone leaving mid-match deletes it (forfeit). Store
// failures are logged; local teardown always succeeds.
func (m *Manager) Leave(ctx context.Context) error {
	room, isHost := m.teardown(ctx)
	if room == nil {
		return nil
	}

	switch {
	case !isHost && room.Status == models.StatusWaiting:
		if _, err := m.store.Update(ctx, room.ID, store.Fields{
			"guest_id": nil, "guest_name": nil, "guest_ready": false,
		}); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.log.Warnf("failed to release guest slot of %s: %v", room.ID, err)
		}
	case isHost:
		if err := m.store.Delete(ctx, room.ID); err != nil {
			m.log.Warnf("failed to delete room %s: %v", room.ID, err)
		}
	case room.Status == models.StatusPlaying:
		if err := m.store.Delete(ctx, room.ID); err != nil {
			m.log.Warnf("failed to delete room %s: %v", room.ID, err)
		}
	}

	m.log.Infof("left room %s", room.ID)
	return nil
}

// Send broadcasts a message on the current room channel, stamping the sender id.
func (m *Manager) Send(ctx context.Context, msg channel.Message) error {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return ErrNotInRoom
	}
	if msg.UserID == "" {
		msg.UserID = m.self.ID
	}
	return ch.Send(ctx, msg)
}

// enterRoom opens the channel for room and starts dual push+poll monitoring,
// tearing down any previous room's monitoring first.
func (m *Manager) enterRoom(ctx context.Context, room *models.Room, isHost bool) error {
	m.teardown(ctx)

	ch := m.channels.Channel(room.ID)
	ch.OnMessage(func(msg channel.Message) {
		if msg.UserID == m.self.ID {
			return
		}
		m.mu.Lock()
		fn := m.msgHandler
		m.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	})
	ch.OnPresence(m.handlePresence)

	if err := ch.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to open channel for room %s: %w", room.ID, err)
	}
	if err := ch.Track(ctx, m.self.ID); err != nil {
		m.log.Warnf("failed to track presence on room %s: %v", room.ID, err)
	}

	m.mu.Lock()
	m.room = room.Clone()
	m.isHost = isHost
	m.channel = ch
	m.startSignaled = false
	m.unsubStore = m.store.Subscribe(room.ID, m.handleRoomUpdate)
	stop := make(chan struct{})
	m.stopPoll = stop
	m.mu.Unlock()

	go m.pollLoop(room.ID, stop)
	return nil
}

// teardown stops monitoring and closes the channel, returning the abandoned room
// snapshot and role. It performs no store mutation.
func (m *Manager) teardown(ctx context.Context) (*models.Room, bool) {
	m.mu.Lock()
	room := m.room
	isHost := m.isHost
	ch := m.channel
	stop := m.stopPoll
	unsub := m.unsubStore
	m.room = nil
	m.isHost = false
	m.channel = nil
	m.stopPoll = nil
	m.unsubStore = nil
	m.startSignaled = false
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if unsub != nil {
		unsub()
	}
	if ch != nil {
		if err := ch.Unsubscribe(ctx); err != nil {
			m.log.Warnf("failed to unsubscribe channel: %v", err)
		}
	}
	return room, isHost
}

// pollLoop re-reads the room once a second while it is waiting, as a fallback for
// lost push notifications. A vanished room routes into the migration path.
func (m *Manager) pollLoop(roomID string, stop chan struct{}) {
	ticker := m.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		m.mu.Lock()
		current := m.room
		m.mu.Unlock()
		if current == nil || current.ID != roomID {
			return
		}
		if current.Status != models.StatusWaiting {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		snapshot, err := m.store.Get(ctx, roomID)
		cancel()
		if errors.Is(err, store.ErrNotFound) {
			m.handleRoomGone(roomID)
			return
		}
		if err != nil {
			m.log.Warnf("room poll failed for %s: %v", roomID, err)
			continue
		}
		m.handleRoomUpdate(snapshot)
	}
}

// handleRoomUpdate is the single funnel for push and poll snapshots. It diffs the
// snapshot against the last one and emits one event per actual change, so duplicate
// or stale deliveries are harmless.
func (m *Manager) handleRoomUpdate(data *models.Room) {
	m.mu.Lock()
	if m.room == nil || m.room.ID != data.ID {
		// Stale callback for a room we already left or migrated away from.
		m.mu.Unlock()
		return
	}
	old := m.room
	m.room = data.Clone()
	isHost := m.isHost
	handler := m.handler

	promote := !isHost && data.HostID == m.self.ID

	var events []Event
	clearOwnReady := false
	if isHost && !old.HasGuest() && data.HasGuest() {
		events = append(events, Event{Kind: EventGuestJoined, Room: data.Clone()})
	}
	if isHost && old.HasGuest() && !data.HasGuest() {
		events = append(events, Event{Kind: EventGuestLeft, Room: data.Clone()})
		// A fresh guest starts the handshake from scratch.
		clearOwnReady = data.HostReady
	}
	if old.HostReady != data.HostReady || old.GuestReady != data.GuestReady {
		events = append(events, Event{Kind: EventReadyChanged, Room: data.Clone()})
	}
	if data.BothReady() && data.Status == models.StatusWaiting {
		if !m.startSignaled {
			m.startSignaled = true
			events = append(events, Event{Kind: EventBothReady, Room: data.Clone()})
		}
	} else if !data.BothReady() {
		m.startSignaled = false
	}
	if old.Status != data.Status {
		events = append(events, Event{Kind: EventStatusChanged, Room: data.Clone()})
	}
	m.mu.Unlock()

	if promote {
		m.promote()
		return
	}
	if clearOwnReady {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if _, err := m.store.Update(ctx, data.ID, store.Fields{"host_ready": false}); err != nil {
			m.log.Warnf("failed to reset ready flag on %s: %v", data.ID, err)
		}
		cancel()
	}
	if handler != nil {
		for _, ev := range events {
			handler(ev)
		}
	}
}

// handleRoomGone reacts to the monitored room disappearing from the store. A guest
// promotes itself; a host treats it as an externally closed session.
func (m *Manager) handleRoomGone(roomID string) {
	m.mu.Lock()
	if m.room == nil || m.room.ID != roomID {
		m.mu.Unlock()
		return
	}
	isHost := m.isHost
	handler := m.handler
	m.mu.Unlock()

	if !isHost {
		m.log.Infof("room %s disappeared, promoting to host", roomID)
		m.promote()
		return
	}

	m.log.Warnf("own room %s disappeared from the store", roomID)
	m.teardown(context.Background())
	if handler != nil {
		handler(Event{Kind: EventClosed, Reason: "room deleted"})
	}
}

// promote performs host migration: the guest abandons the dead room (its id is
// permanently invalid from here) and re-creates the lobby under the same join code
// with the same parameters and a fresh seed, assuming the host role. Readiness and
// the challenge sequence reset. On failure the participant falls back to the menu.
func (m *Manager) promote() {
	old, _ := m.teardown(context.Background())
	if old == nil {
		return
	}
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	replacement, err := m.createRoom(ctx, old.Code, old.Mode, old.Difficulty, old.Duration, old.Public)
	if err != nil {
		m.log.Warnf("host promotion failed: %v", err)
		if handler != nil {
			handler(Event{Kind: EventClosed, Reason: "promotion failed"})
		}
		return
	}

	m.log.Infof("promoted to host: new room %s keeps code %s", replacement.ID, replacement.Code)
	if handler != nil {
		handler(Event{Kind: EventPromoted, Room: replacement.Clone()})
	}
}

// handlePresence forwards opponent departures to the session. Joins are redundant
// with the store-side guest diff and are dropped.
func (m *Manager) handlePresence(p channel.PresenceEvent) {
	if p.UserID == m.self.ID || p.Kind != channel.PresenceLeave {
		return
	}
	m.mu.Lock()
	room := m.room.Clone()
	handler := m.handler
	m.mu.Unlock()
	if room == nil || handler == nil {
		return
	}
	handler(Event{Kind: EventOpponentDisconnected, Room: room})
}

func (m *Manager) generateCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("%06d", 100000+m.rand.Intn(900000))
}

func (m *Manager) generateSeed() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int32(m.rand.Intn(2147483647))
}
