// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/uta1508/NeonType/internal/models"
)

// MemoryStore keeps rooms in process memory. It backs tests and the local match
// simulator, and doubles as the reference semantics for other implementations.
type MemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]*models.Room
	subs    map[string]map[int]func(*models.Room)
	nextSub int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*models.Room),
		subs:  make(map[string]map[int]func(*models.Room)),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, room *models.Room) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := room.Clone()
	cp.ID = uuid.NewString()
	s.rooms[cp.ID] = cp
	return cp.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fields Fields) (*models.Room, error) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	applyFields(room, fields)
	cp := room.Clone()
	notify := s.snapshotSubs(id)
	s.mu.Unlock()

	for _, fn := range notify {
		fn(cp.Clone())
	}
	return cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *MemoryStore) FindWaitingByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.Code == code && room.Status == models.StatusWaiting {
			return room.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindJoinable(ctx context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.Code == code && room.Status == models.StatusWaiting && room.GuestID == nil {
			return room.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindPublicWaiting(ctx context.Context) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.Public && room.Status == models.StatusWaiting && room.GuestID == nil {
			return room.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ClaimGuest(ctx context.Context, id, guestID, guestName string) (*models.Room, error) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	// The guest slot check and write happen under one lock; a second concurrent
	// claim sees the filled slot and loses.
	if !ok || room.Status != models.StatusWaiting || room.GuestID != nil {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	room.GuestID = &guestID
	room.GuestName = &guestName
	cp := room.Clone()
	notify := s.snapshotSubs(id)
	s.mu.Unlock()

	for _, fn := range notify {
		fn(cp.Clone())
	}
	return cp, nil
}

func (s *MemoryStore) Subscribe(id string, fn func(*models.Room)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[id] == nil {
		s.subs[id] = make(map[int]func(*models.Room))
	}
	key := s.nextSub
	s.nextSub++
	s.subs[id][key] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[id], key)
	}
}

func (s *MemoryStore) snapshotSubs(id string) []func(*models.Room) {
	fns := make([]func(*models.Room), 0, len(s.subs[id]))
	for _, fn := range s.subs[id] {
		fns = append(fns, fn)
	}
	return fns
}

func applyFields(room *models.Room, fields Fields) {
	for key, val := range fields {
		switch key {
		case "status":
			room.Status = models.RoomStatus(toString(val))
		case "host_id":
			room.HostID = toString(val)
		case "host_name":
			room.HostName = toString(val)
		case "guest_id":
			room.GuestID = toStringPtr(val)
		case "guest_name":
			room.GuestName = toStringPtr(val)
		case "host_ready":
			room.HostReady = val == true
		case "guest_ready":
			room.GuestReady = val == true
		case "host_score":
			room.HostScore = toIntPtr(val)
		case "guest_score":
			room.GuestScore = toIntPtr(val)
		case "winner_id":
			room.WinnerID = toStringPtr(val)
		}
	}
}

func toString(val interface{}) string {
	s, _ := val.(string)
	return s
}

func toStringPtr(val interface{}) *string {
	switch v := val.(type) {
	case nil:
		return nil
	case string:
		return &v
	case *string:
		return v
	}
	return nil
}

func toIntPtr(val interface{}) *int {
	switch v := val.(type) {
	case nil:
		return nil
	case int:
		return &v
	case *int:
		return v
	}
	return nil
}
