// cmd/matchsim/main.go
//
// matchsim drives two full coordinator clients through one scripted match in a
// single process: create, join by code, readiness handshake, synchronized start,
// live score exchange, reconciliation and winner determination. With the default
// memory backends it needs no external services; point STORE_BACKEND and
// CHANNEL_BACKEND at postgres/redis/ws to exercise the real transports.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/uta1508/NeonType/internal/channel"
	"github.com/uta1508/NeonType/internal/config"
	"github.com/uta1508/NeonType/internal/identity"
	"github.com/uta1508/NeonType/internal/match"
	"github.com/uta1508/NeonType/internal/models"
	"github.com/uta1508/NeonType/internal/room"
	"github.com/uta1508/NeonType/internal/stats"
	"github.com/uta1508/NeonType/internal/store"
)

type player struct {
	name string
	id   *identity.Identity
	sess *match.Session
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bad configuration: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Fatalf("failed to build store: %v", err)
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	host := buildPlayer(cfg, log, clock, st, "Hostine")
	guest := buildPlayer(cfg, log, clock, st, "Guesto")

	r, err := host.sess.CreateRoom(ctx, models.ModeNormal, "normal", 60, false)
	if err != nil {
		log.Fatalf("failed to create room: %v", err)
	}
	log.Infof("room %s open under code %s", r.ID, r.Code)

	if _, err := guest.sess.JoinByCode(ctx, r.Code); err != nil {
		log.Fatalf("failed to join room: %v", err)
	}

	if err := host.sess.ToggleReady(ctx); err != nil {
		log.Fatalf("host ready failed: %v", err)
	}
	if err := guest.sess.ToggleReady(ctx); err != nil {
		log.Fatalf("guest ready failed: %v", err)
	}

	waitFor(log, host, match.StatePlaying)
	waitFor(log, guest, match.StatePlaying)
	log.Info("both clients playing")

	// Scripted play: the host types a little faster.
	for i := 1; i <= 8; i++ {
		host.sess.ReportScoreChanged(i * 60)
		guest.sess.ReportScoreChanged(i * 45)
		time.Sleep(600 * time.Millisecond)
	}

	var wg sync.WaitGroup
	results := make([]*match.Result, 2)
	for i, p := range []*player{host, guest} {
		wg.Add(1)
		go func(i int, p *player) {
			defer wg.Done()
			results[i] = p.sess.ReportMatchEnd()
		}(i, p)
	}
	wg.Wait()

	for i, p := range []*player{host, guest} {
		res := results[i]
		log.Infof("%s: %s (self %d, opponent %d, degraded %v)",
			p.name, res.Outcome, res.SelfScore, res.OpponentScore, res.Degraded)
	}

	// The host needs its grace delay to record the authoritative outcome.
	time.Sleep(3 * time.Second)
	fresh, err := st.Get(ctx, r.ID)
	if err != nil {
		log.Fatalf("failed to read final room: %v", err)
	}
	winner := "draw"
	if fresh.WinnerID != nil {
		winner = *fresh.WinnerID
	}
	log.Infof("store says: status=%s winner=%s", fresh.Status, winner)

	_ = host.sess.Leave(ctx)
	_ = guest.sess.Leave(ctx)
}

func buildPlayer(cfg *config.Config, log *logrus.Logger, clock clockwork.Clock, st store.RoomStore, name string) *player {
	idPath := filepath.Join(os.TempDir(), fmt.Sprintf("neontype-sim-%s-%d", name, os.Getpid()))
	id, err := identity.Load(idPath, name, []byte(cfg.TokenSecret))
	if err != nil {
		log.Fatalf("failed to load identity for %s: %v", name, err)
	}

	provider, err := buildChannels(cfg, log, id)
	if err != nil {
		log.Fatalf("failed to build channel provider for %s: %v", name, err)
	}

	mgr := room.NewManager(st, provider, id, log, clock)
	sess := match.NewSession(mgr, st, log, clock)
	sess.SetStatsRecorder(stats.NewTracker(idPath+".stats.json", log))
	p := &player{name: name, id: id, sess: sess}
	sess.SetCallbacks(match.Callbacks{
		OnStateChange: func(s match.State) { log.Debugf("%s -> %s", name, s) },
		OnOpponentScore: func(score int) { log.Debugf("%s sees opponent at %d", name, score) },
		OnEmoji:         func(e string) { log.Infof("%s received %s", name, e) },
		OnClosed:        func(reason string) { log.Warnf("%s: room closed: %s", name, reason) },
	})
	return p
}

// sharedHub backs the memory channel transport; every in-process player must see
// the same hub.
var sharedHub = channel.NewHub()

func buildChannels(cfg *config.Config, log *logrus.Logger, id *identity.Identity) (channel.Provider, error) {
	switch cfg.ChannelBackend {
	case config.BackendMemory:
		return sharedHub, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return channel.NewRedisProvider(rdb, log), nil
	case config.BackendWS:
		token := ""
		if cfg.TokenSecret != "" {
			t, err := id.Token()
			if err != nil {
				return nil, err
			}
			token = t
		}
		return channel.NewWSProvider(cfg.RelayURL, token, log), nil
	}
	return nil, fmt.Errorf("unknown channel backend %q", cfg.ChannelBackend)
}

func buildStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (store.RoomStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store.NewMemoryStore(), func() {}, nil
	case config.BackendPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func waitFor(log *logrus.Logger, p *player, want match.State) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if p.sess.State() == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	log.Fatalf("%s never reached %s (now %s)", p.name, want, p.sess.State())
}
