// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/uta1508/NeonType/internal/models"
)

const roomColumns = `id, code, is_public, status, host_id, host_name, guest_id, guest_name,
	game_mode, game_difficulty, duration, text_seed, host_ready, guest_ready,
	host_score, guest_score, winner_id`

// notifyChannel is the LISTEN/NOTIFY channel the match_rooms trigger fires on update
// (payload: the room id). See migrations/001_match_rooms.sql.
const notifyChannel = "match_rooms_changed"

// allowedColumns whitelists Fields keys before they reach a SET clause.
var allowedColumns = map[string]bool{
	"status": true, "host_id": true, "host_name": true,
	"guest_id": true, "guest_name": true,
	"host_ready": true, "guest_ready": true,
	"host_score": true, "guest_score": true, "winner_id": true,
}

// PostgresStore implements RoomStore against a match_rooms table. Change
// notifications ride on LISTEN/NOTIFY from a row-update trigger.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger

	mu      sync.Mutex
	subs    map[string]map[int]func(*models.Room)
	nextSub int
	cancel  context.CancelFunc
}

// NewPostgresStore connects a pool and starts the notification listener.
func NewPostgresStore(ctx context.Context, connString string, log *logrus.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		pool:   pool,
		log:    log,
		subs:   make(map[string]map[int]func(*models.Room)),
		cancel: cancel,
	}
	go s.listen(listenCtx)
	return s, nil
}

// Close stops the listener and releases the pool.
func (s *PostgresStore) Close() {
	s.cancel()
	s.pool.Close()
}

func (s *PostgresStore) Insert(ctx context.Context, room *models.Room) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO match_rooms (code, is_public, status, host_id, host_name,
			game_mode, game_difficulty, duration, text_seed, host_ready, guest_ready)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+roomColumns,
		room.Code, room.Public, room.Status, room.HostID, room.HostName,
		room.Mode, room.Difficulty, room.Duration, room.Seed, room.HostReady, room.GuestReady)
	return scanRoom(row)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM match_rooms WHERE id = $1`, id)
	return scanRoom(row)
}

func (s *PostgresStore) Update(ctx context.Context, id string, fields Fields) (*models.Room, error) {
	if len(fields) == 0 {
		return s.Get(ctx, id)
	}

	set := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, id)
	for col, val := range fields {
		if !allowedColumns[col] {
			return nil, fmt.Errorf("unsupported update column %q", col)
		}
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE match_rooms SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(set, ", "), roomColumns), args...)
	return scanRoom(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM match_rooms WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) FindWaitingByCode(ctx context.Context, code string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM match_rooms
		WHERE code = $1 AND status = 'waiting' LIMIT 1`, code)
	return scanRoom(row)
}

func (s *PostgresStore) FindJoinable(ctx context.Context, code string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM match_rooms
		WHERE code = $1 AND status = 'waiting' AND guest_id IS NULL LIMIT 1`, code)
	return scanRoom(row)
}

func (s *PostgresStore) FindPublicWaiting(ctx context.Context) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM match_rooms
		WHERE is_public AND status = 'waiting' AND guest_id IS NULL
		ORDER BY created_at LIMIT 1`)
	return scanRoom(row)
}

func (s *PostgresStore) ClaimGuest(ctx context.Context, id, guestID, guestName string) (*models.Room, error) {
	// The guest_id IS NULL predicate makes the claim atomic: the second of two
	// concurrent joins updates zero rows.
	row := s.pool.QueryRow(ctx, `
		UPDATE match_rooms SET guest_id = $2, guest_name = $3
		WHERE id = $1 AND status = 'waiting' AND guest_id IS NULL
		RETURNING `+roomColumns, id, guestID, guestName)
	return scanRoom(row)
}

func (s *PostgresStore) Subscribe(id string, fn func(*models.Room)) func() {
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

// listen holds a dedicated connection on LISTEN and fans room updates out to
// subscribers. Reconnects on error until the store is closed.
func (s *PostgresStore) listen(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warnf("room notification listener error: %v", err)
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		roomID := notification.Payload

		s.mu.Lock()
		fns := make([]func(*models.Room), 0, len(s.subs[roomID]))
		for _, fn := range s.subs[roomID] {
			fns = append(fns, fn)
		}
		s.mu.Unlock()
		if len(fns) == 0 {
			continue
		}

		room, err := s.Get(ctx, roomID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Warnf("failed to fetch room %s after notification: %v", roomID, err)
			}
			continue
		}
		for _, fn := range fns {
			fn(room.Clone())
		}
	}
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	err := row.Scan(
		&r.ID, &r.Code, &r.Public, &r.Status, &r.HostID, &r.HostName,
		&r.GuestID, &r.GuestName, &r.Mode, &r.Difficulty, &r.Duration, &r.Seed,
		&r.HostReady, &r.GuestReady, &r.HostScore, &r.GuestScore, &r.WinnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}
	return &r, nil
}
