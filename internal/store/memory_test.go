// internal/store/memory_test.go
package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uta1508/NeonType/internal/models"
)

func newWaitingRoom(code string, public bool) *models.Room {
	return &models.Room{
		Code:       code,
		Public:     public,
		Status:     models.StatusWaiting,
		HostID:     "user_1_host",
		HostName:   "Host",
		Mode:       models.ModeNormal,
		Difficulty: "hard",
		Duration:   60,
		Seed:       42,
	}
}

func TestInsertAssignsID(t *testing.T) {
	s := NewMemoryStore()
	room, err := s.Insert(context.Background(), newWaitingRoom("123456", false))
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)

	got, err := s.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, room, got)
}

func TestRoundTripByCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := newWaitingRoom("654321", true)
	in.Mode = models.ModeNormal
	in.Difficulty = "hard"
	in.Duration = 60
	_, err := s.Insert(ctx, in)
	require.NoError(t, err)

	got, err := s.FindWaitingByCode(ctx, "654321")
	require.NoError(t, err)
	assert.Equal(t, models.ModeNormal, got.Mode)
	assert.Equal(t, "hard", got.Difficulty)
	assert.Equal(t, 60, got.Duration)
	assert.True(t, got.Public)
}

func TestFindWaitingByCodeSkipsNonWaiting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	room, err := s.Insert(ctx, newWaitingRoom("111111", false))
	require.NoError(t, err)
	_, err = s.Update(ctx, room.ID, Fields{"status": string(models.StatusPlaying)})
	require.NoError(t, err)

	_, err = s.FindWaitingByCode(ctx, "111111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimGuestIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room, err := s.Insert(ctx, newWaitingRoom("222222", false))
	require.NoError(t, err)

	claimed, err := s.ClaimGuest(ctx, room.ID, "user_2_guest", "Guest")
	require.NoError(t, err)
	require.NotNil(t, claimed.GuestID)
	assert.Equal(t, "user_2_guest", *claimed.GuestID)

	// Second claim must be rejected by the store, not the caller.
	_, err = s.ClaimGuest(ctx, room.ID, "user_3_other", "Other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindJoinableExcludesClaimedRooms(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room, err := s.Insert(ctx, newWaitingRoom("333333", false))
	require.NoError(t, err)
	_, err = s.ClaimGuest(ctx, room.ID, "user_2_guest", "Guest")
	require.NoError(t, err)

	_, err = s.FindJoinable(ctx, "333333")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindPublicWaiting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.FindPublicWaiting(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Insert(ctx, newWaitingRoom("444444", false))
	require.NoError(t, err)
	_, err = s.FindPublicWaiting(ctx)
	assert.ErrorIs(t, err, ErrNotFound, "private rooms are not matchable")

	pub, err := s.Insert(ctx, newWaitingRoom("555555", true))
	require.NoError(t, err)
	got, err := s.FindPublicWaiting(ctx)
	require.NoError(t, err)
	assert.Equal(t, pub.ID, got.ID)
}

func TestUpdateClearsNullableFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room, err := s.Insert(ctx, newWaitingRoom("666666", false))
	require.NoError(t, err)
	_, err = s.ClaimGuest(ctx, room.ID, "user_2_guest", "Guest")
	require.NoError(t, err)

	got, err := s.Update(ctx, room.ID, Fields{
		"guest_id":    nil,
		"guest_name":  nil,
		"guest_ready": false,
	})
	require.NoError(t, err)
	assert.Nil(t, got.GuestID)
	assert.Nil(t, got.GuestName)
	assert.False(t, got.GuestReady)
	assert.Equal(t, "user_1_host", got.HostID, "host fields untouched")
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room, err := s.Insert(ctx, newWaitingRoom("777777", false))
	require.NoError(t, err)

	var seen []*models.Room
	unsub := s.Subscribe(room.ID, func(r *models.Room) {
		seen = append(seen, r)
	})

	_, err = s.Update(ctx, room.ID, Fields{"host_ready": true})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].HostReady)

	unsub()
	_, err = s.Update(ctx, room.ID, Fields{"host_ready": false})
	require.NoError(t, err)
	assert.Len(t, seen, 1, "no delivery after unsubscribe")
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room, err := s.Insert(ctx, newWaitingRoom("888888", false))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, room.ID))
	require.NoError(t, s.Delete(ctx, room.ID))

	_, err = s.Get(ctx, room.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
