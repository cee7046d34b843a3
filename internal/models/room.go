// internal/models/room.go
package models

// RoomStatus tracks a room's lifecycle. Monotonic within one row; host migration
// creates a fresh row back at waiting.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// GameMode selects the win condition.
type GameMode string

const (
	// ModeNormal compares final scores.
	ModeNormal GameMode = "normal"
	// ModeSuddenDeath ends on the first miss; the player who missed loses.
	ModeSuddenDeath GameMode = "sudden_death"
)

// Room is the single shared record coordinating one match. The room lifecycle
// manager owns the lifecycle fields; the match session owns HostScore, GuestScore
// and WinnerID.
type Room struct {
	ID     string     `json:"id"`
	Code   string     `json:"code"`
	Public bool       `json:"is_public"`
	Status RoomStatus `json:"status"`

	HostID    string  `json:"host_id"`
	HostName  string  `json:"host_name"`
	GuestID   *string `json:"guest_id"`
	GuestName *string `json:"guest_name"`

	Mode       GameMode `json:"game_mode"`
	Difficulty string   `json:"game_difficulty"`
	Duration   int      `json:"duration"`
	Seed       int32    `json:"text_seed"`

	HostReady  bool `json:"host_ready"`
	GuestReady bool `json:"guest_ready"`

	HostScore  *int    `json:"host_score"`
	GuestScore *int    `json:"guest_score"`
	WinnerID   *string `json:"winner_id"`
}

// HasGuest reports whether the guest slot is claimed.
func (r *Room) HasGuest() bool {
	return r != nil && r.GuestID != nil
}

// BothReady is the rendezvous condition for the synchronized start.
func (r *Room) BothReady() bool {
	return r != nil && r.HostReady && r.GuestReady
}

// Clone returns a deep copy so snapshot diffing never observes in-place mutation.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.GuestID = cloneStr(r.GuestID)
	cp.GuestName = cloneStr(r.GuestName)
	cp.HostScore = cloneInt(r.HostScore)
	cp.GuestScore = cloneInt(r.GuestScore)
	cp.WinnerID = cloneStr(r.WinnerID)
	return &cp
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
