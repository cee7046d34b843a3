// internal/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/uta1508/NeonType/internal/models"
)

// ErrNotFound is returned when a lookup matches no room, including the atomic guest
// claim losing a join race.
var ErrNotFound = errors.New("room not found")

// Fields is a partial update keyed by column name. Supported keys: status, host_id,
// host_name, guest_id, guest_name, host_ready, guest_ready, host_score, guest_score,
// winner_id. Nil values clear nullable columns.
type Fields map[string]interface{}

// RoomStore is the record-store client backing match coordination. Implementations
// must make ClaimGuest atomic: of two concurrent joins, exactly one wins and the
// other gets ErrNotFound.
type RoomStore interface {
	// Insert persists a new room and returns it with its store-assigned ID.
	Insert(ctx context.Context, room *models.Room) (*models.Room, error)

	// Get returns the room by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Room, error)

	// Update applies a partial update and returns the new record, or ErrNotFound.
	Update(ctx context.Context, id string, fields Fields) (*models.Room, error)

	// Delete removes the room. Deleting an absent room is not an error.
	Delete(ctx context.Context, id string) error

	// FindWaitingByCode returns the waiting room with the given join code.
	FindWaitingByCode(ctx context.Context, code string) (*models.Room, error)

	// FindJoinable returns the waiting, guest-empty room with the given join code.
	FindJoinable(ctx context.Context, code string) (*models.Room, error)

	// FindPublicWaiting returns one public, waiting, guest-empty room.
	FindPublicWaiting(ctx context.Context) (*models.Room, error)

	// ClaimGuest atomically fills the guest slot if it is still empty.
	ClaimGuest(ctx context.Context, id, guestID, guestName string) (*models.Room, error)

	// Subscribe registers fn to receive the fresh record after every update to the
	// room with the given id. The returned func unregisters it.
	Subscribe(id string, fn func(*models.Room)) (unsubscribe func())
}
