// internal/match/session.go
package match

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/uta1508/NeonType/internal/anticheat"
	"github.com/uta1508/NeonType/internal/channel"
	"github.com/uta1508/NeonType/internal/models"
	"github.com/uta1508/NeonType/internal/rng"
	"github.com/uta1508/NeonType/internal/room"
	"github.com/uta1508/NeonType/internal/store"
)

// State is the per-client session state machine.
type State int

const (
	StateIdle State = iota
	StateWaitingRoom
	StateStarting
	StatePlaying
	StateReconciling
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingRoom:
		return "waiting_room"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateReconciling:
		return "reconciling"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// Outcome is the local view of the match result.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Result is handed to the statistics collaborator when a match finishes.
type Result struct {
	Outcome        Outcome
	SelfScore      int
	OpponentScore  int
	SelfMissed     bool
	OpponentMissed bool
	// Degraded marks a completion that used the last seen live score because the
	// opponent's final-score event never arrived in time.
	Degraded bool
	// Forfeit marks a win by opponent disconnection.
	Forfeit bool
}

// StatsRecorder receives the result of every finished match.
type StatsRecorder interface {
	RecordMatch(Result)
}

// Callbacks are optional observer hooks for the gameplay/UI layer. All are invoked
// off the caller's stack and must not block for long.
type Callbacks struct {
	OnStateChange   func(State)
	OnLobbyUpdate   func(room.Event)
	OnOpponentScore func(int)
	OnOpponentMiss  func()
	OnEmoji         func(string)
	OnStartTimeout  func()
	OnClosed        func(reason string)
}

// Protocol timing. The start delay masks broadcast latency so both clients begin at
// effectively the same instant; the reconcile timeout bounds the wait for the
// opponent's final score; the winner grace delay gives the guest's score write time
// to land before the host reads both back.
const (
	startDelay         = 300 * time.Millisecond
	scoreInterval      = 500 * time.Millisecond
	reconcileTimeout   = 3 * time.Second
	winnerGraceDelay   = 2 * time.Second
	startGuardTimeout  = 10 * time.Second
	broadcastCtxBudget = 2 * time.Second
)

// Session drives one client through a match: synchronized start, live score
// exchange, final-score reconciliation and winner determination. It is the sole
// writer of the room's score and winner fields.
type Session struct {
	mgr   *room.Manager
	store store.RoomStore
	log   *logrus.Logger
	clock clockwork.Clock

	mu    sync.Mutex
	state State
	cbs   Callbacks
	stats StatsRecorder

	score          int
	selfMissed     bool
	opponentScore  int
	opponentMissed bool
	opponentFinal  bool
	forfeitWin     bool
	started        bool
	degraded       bool
	result         *Result

	startCh       chan struct{}
	finalCh       chan struct{}
	forfeitCh     chan struct{}
	stopBroadcast chan struct{}
}

// NewSession wires a session onto the room manager's event and message streams.
func NewSession(mgr *room.Manager, st store.RoomStore, log *logrus.Logger, clock clockwork.Clock) *Session {
	s := &Session{
		mgr:   mgr,
		store: st,
		log:   log,
		clock: clock,
		state: StateIdle,
	}
	s.resetLocked()
	mgr.SetEventHandler(s.handleRoomEvent)
	mgr.SetMessageHandler(s.handleMessage)
	return s
}

// SetCallbacks installs observer hooks. Call before entering a room.
func (s *Session) SetCallbacks(cbs Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cbs = cbs
}

// SetStatsRecorder installs the statistics collaborator.
func (s *Session) SetStatsRecorder(r StatsRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = r
}

// resetLocked clears per-match state. Caller holds s.mu (or owns s exclusively).
func (s *Session) resetLocked() {
	s.score = 0
	s.selfMissed = false
	s.opponentScore = 0
	s.opponentMissed = false
	s.opponentFinal = false
	s.forfeitWin = false
	s.started = false
	s.degraded = false
	s.result = nil
	s.startCh = make(chan struct{})
	s.finalCh = make(chan struct{})
	s.forfeitCh = make(chan struct{})
}

// CreateRoom opens a fresh lobby as host.
func (s *Session) CreateRoom(ctx context.Context, mode models.GameMode, difficulty string, duration int, public bool) (*models.Room, error) {
	r, err := s.mgr.CreateRoom(ctx, mode, difficulty, duration, public)
	if err != nil {
		return nil, err
	}
	s.enterWaitingRoom()
	return r, nil
}

// JoinByCode joins an existing lobby as guest.
func (s *Session) JoinByCode(ctx context.Context, code string) (*models.Room, error) {
	r, err := s.mgr.JoinByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.enterWaitingRoom()
	return r, nil
}

// JoinRandomPublic joins the first open public lobby.
func (s *Session) JoinRandomPublic(ctx context.Context) (*models.Room, error) {
	r, err := s.mgr.JoinRandomPublic(ctx)
	if err != nil {
		return nil, err
	}
	s.enterWaitingRoom()
	return r, nil
}

// ToggleReady flips the local ready flag.
func (s *Session) ToggleReady(ctx context.Context) error {
	return s.mgr.ToggleReady(ctx)
}

// Leave abandons the room and returns the session to idle.
func (s *Session) Leave(ctx context.Context) error {
	err := s.mgr.Leave(ctx)
	s.mu.Lock()
	s.stopBroadcastLocked()
	s.resetLocked()
	s.mu.Unlock()
	s.setState(StateIdle)
	return err
}

// SendEmoji relays a cosmetic reaction to the opponent. Best effort.
func (s *Session) SendEmoji(ctx context.Context, emoji string) {
	if err := s.mgr.Send(ctx, channel.Message{Event: channel.EventEmoji, Emoji: emoji}); err != nil {
		s.log.Warnf("failed to send emoji: %v", err)
	}
}

// ChallengeOrder derives the shared challenge permutation for a word list of n
// items from the room's seed. Host and guest get identical orders.
func (s *Session) ChallengeOrder(n int) []int {
	r := s.mgr.Room()
	if r == nil {
		return nil
	}
	return rng.New(r.Seed).Perm(n)
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View is the observable state exposed to the gameplay/UI layer.
type View struct {
	State          State
	OpponentScore  int
	OpponentMissed bool
	Result         *Result
}

// Snapshot returns the observable state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:          s.state,
		OpponentScore:  s.opponentScore,
		OpponentMissed: s.opponentMissed,
	}
	if s.result != nil {
		cp := *s.result
		v.Result = &cp
	}
	return v
}

// ReportScoreChanged is called by the gameplay layer whenever the local cumulative
// score changes. The value is picked up by the rate-limited broadcast loop.
func (s *Session) ReportScoreChanged(score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score = score
}

// ReportMiss is called by the gameplay layer on a miss in sudden-death mode. The
// one-shot signal goes out immediately so the opponent's game ends too.
func (s *Session) ReportMiss() {
	s.mu.Lock()
	if s.selfMissed || s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.selfMissed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), broadcastCtxBudget)
	defer cancel()
	if err := s.mgr.Send(ctx, channel.Message{Event: channel.EventMiss}); err != nil {
		s.log.Warnf("failed to broadcast miss: %v", err)
	}
}

// ReportMatchEnd is called by the gameplay layer when the local game ends (time
// expiry or miss). It broadcasts the final score, waits up to the reconcile
// timeout for the opponent's, persists through the anti-cheat validator, and (on
// the host) determines the winner. It blocks for the duration of reconciliation
// and returns the local result. Calling it again returns the recorded result.
func (s *Session) ReportMatchEnd() *Result {
	s.mu.Lock()
	if s.state != StatePlaying {
		var cp *Result
		if s.result != nil {
			c := *s.result
			cp = &c
		}
		s.mu.Unlock()
		return cp
	}
	s.state = StateReconciling
	s.stopBroadcastLocked()
	final := s.score
	alreadyFinal := s.opponentFinal
	forfeit := s.forfeitWin
	finalCh := s.finalCh
	forfeitCh := s.forfeitCh
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StateReconciling)
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastCtxBudget)
	if err := s.mgr.Send(ctx, channel.Message{Event: channel.EventFinalScore, Score: final}); err != nil {
		s.log.Warnf("failed to broadcast final score: %v", err)
	}
	cancel()

	if !alreadyFinal && !forfeit {
		select {
		case <-finalCh:
		case <-forfeitCh:
		case <-s.clock.After(reconcileTimeout):
			s.mu.Lock()
			if !s.opponentFinal {
				s.degraded = true
			}
			s.mu.Unlock()
			s.log.Warnf("timeout waiting for opponent final score, using last known score %d", s.snapshotOpponentScore())
		}
	}

	return s.finish(final)
}

// finish persists the local score and computes the result.
func (s *Session) finish(finalScore int) *Result {
	r := s.mgr.Room()
	isHost := s.mgr.IsHost()

	if r != nil {
		sanitized, reason := anticheat.Sanitize(finalScore, r.Duration)
		if reason != "" {
			s.log.Warnf("invalid score detected: %s", reason)
		}
		field := "guest_score"
		if isHost {
			field = "host_score"
		}
		ctx, cancel := context.WithTimeout(context.Background(), broadcastCtxBudget)
		if _, err := s.store.Update(ctx, r.ID, store.Fields{field: sanitized}); err != nil {
			// The match still completes locally; the store row just stays partial.
			s.log.Warnf("failed to persist final score: %v", err)
		}
		cancel()
	}

	s.mu.Lock()
	result := &Result{
		SelfScore:      finalScore,
		OpponentScore:  s.opponentScore,
		SelfMissed:     s.selfMissed,
		OpponentMissed: s.opponentMissed,
		Degraded:       s.degraded,
		Forfeit:        s.forfeitWin,
	}
	mode := models.ModeNormal
	if r != nil {
		mode = r.Mode
	}
	result.Outcome = decideOutcome(mode, result)
	s.result = result
	s.state = StateFinished
	stats := s.stats
	cb := s.cbs.OnStateChange
	s.mu.Unlock()

	if isHost && r != nil && !result.Forfeit {
		s.determineWinner(r)
	}

	if stats != nil {
		stats.RecordMatch(*result)
	}
	if cb != nil {
		cb(StateFinished)
	}
	cp := *result
	return &cp
}

// decideOutcome applies the winner rule locally. Sudden death compares miss flags;
// a missed player loses even with the higher score. Normal mode compares scores,
// and equal scores are a draw.
func decideOutcome(mode models.GameMode, r *Result) Outcome {
	if r.Forfeit {
		return OutcomeWin
	}
	if mode == models.ModeSuddenDeath {
		switch {
		case r.SelfMissed && !r.OpponentMissed:
			return OutcomeLoss
		case !r.SelfMissed && r.OpponentMissed:
			return OutcomeWin
		default:
			return OutcomeDraw
		}
	}
	switch {
	case r.SelfScore > r.OpponentScore:
		return OutcomeWin
	case r.SelfScore < r.OpponentScore:
		return OutcomeLoss
	default:
		return OutcomeDraw
	}
}

// determineWinner runs host-side only: after a grace delay for the guest's score
// write to land, read both scores back and record the outcome. Both scores must be
// present; a partial row is left unresolved rather than guessed at.
func (s *Session) determineWinner(r *models.Room) {
	<-s.clock.After(winnerGraceDelay)

	ctx, cancel := context.WithTimeout(context.Background(), broadcastCtxBudget)
	defer cancel()

	fresh, err := s.store.Get(ctx, r.ID)
	if err != nil {
		s.log.Warnf("failed to read room for winner determination: %v", err)
		return
	}
	if fresh.HostScore == nil || fresh.GuestScore == nil {
		s.log.Warnf("room %s missing a final score, leaving winner unresolved", r.ID)
		return
	}

	var winnerID *string
	if r.Mode == models.ModeSuddenDeath {
		s.mu.Lock()
		hostMissed, guestMissed := s.selfMissed, s.opponentMissed
		s.mu.Unlock()
		switch {
		case hostMissed && !guestMissed:
			winnerID = fresh.GuestID
		case !hostMissed && guestMissed:
			id := fresh.HostID
			winnerID = &id
		}
	} else {
		switch {
		case *fresh.HostScore > *fresh.GuestScore:
			id := fresh.HostID
			winnerID = &id
		case *fresh.HostScore < *fresh.GuestScore:
			winnerID = fresh.GuestID
		}
	}

	fields := store.Fields{"status": string(models.StatusFinished)}
	if winnerID != nil {
		fields["winner_id"] = *winnerID
	}
	if _, err := s.store.Update(ctx, r.ID, fields); err != nil {
		s.log.Warnf("failed to record winner on room %s: %v", r.ID, err)
		return
	}
	if winnerID != nil {
		s.log.Infof("winner determined: %s", *winnerID)
	} else {
		s.log.Infof("match %s ended in a draw", r.ID)
	}
}

func (s *Session) snapshotOpponentScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opponentScore
}

func (s *Session) enterWaitingRoom() {
	s.mu.Lock()
	s.stopBroadcastLocked()
	s.resetLocked()
	s.state = StateWaitingRoom
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StateWaitingRoom)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// handleRoomEvent is the lifecycle-event sink from the room manager.
func (s *Session) handleRoomEvent(ev room.Event) {
	switch ev.Kind {
	case room.EventBothReady:
		if s.mgr.IsHost() {
			s.hostStart()
		} else {
			s.armStartGuard()
		}
	case room.EventPromoted:
		// Fresh room, fresh seed: the handshake starts over as host.
		s.enterWaitingRoom()
		s.forwardLobbyEvent(ev)
	case room.EventClosed:
		s.mu.Lock()
		s.stopBroadcastLocked()
		s.resetLocked()
		s.state = StateIdle
		cb := s.cbs.OnClosed
		s.mu.Unlock()
		if cb != nil {
			cb(ev.Reason)
		}
	case room.EventOpponentDisconnected:
		s.handleOpponentGone(ev.Room)
		if ev.Room == nil || ev.Room.Status != models.StatusPlaying {
			// Lobby-phase departure: the store-side diff drives the room state, but
			// the UI still wants to hear about it.
			s.forwardLobbyEvent(ev)
		}
	default:
		s.forwardLobbyEvent(ev)
	}
}

func (s *Session) forwardLobbyEvent(ev room.Event) {
	s.mu.Lock()
	cb := s.cbs.OnLobbyUpdate
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// hostStart drives the authoritative transition into play: write status=playing,
// broadcast the start signal, then begin after the sync delay. Duplicate both-ready
// observations are dropped.
func (s *Session) hostStart() {
	s.mu.Lock()
	if s.started || s.state != StateWaitingRoom {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.state = StateStarting
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StateStarting)
	}

	go func() {
		r := s.mgr.Room()
		if r == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), broadcastCtxBudget)
		if _, err := s.store.Update(ctx, r.ID, store.Fields{"status": string(models.StatusPlaying)}); err != nil {
			s.log.Warnf("failed to set room %s playing: %v", r.ID, err)
		}
		if err := s.mgr.Send(ctx, channel.Message{
			Event:     channel.EventGameStart,
			Timestamp: s.clock.Now().UnixMilli(),
		}); err != nil {
			s.log.Warnf("failed to broadcast start signal: %v", err)
		}
		cancel()

		<-s.clock.After(startDelay)
		s.enterPlaying()
	}()
}

// armStartGuard bounds the guest's wait for the host's start signal. If the signal
// never comes the guest falls back to the lobby instead of hanging on a stuck host.
func (s *Session) armStartGuard() {
	s.mu.Lock()
	if s.started || s.state != StateWaitingRoom {
		s.mu.Unlock()
		return
	}
	s.state = StateStarting
	startCh := s.startCh
	forfeitCh := s.forfeitCh
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StateStarting)
	}

	go func() {
		select {
		case <-startCh:
		case <-forfeitCh:
		case <-s.clock.After(startGuardTimeout):
			s.mu.Lock()
			if s.started || s.state != StateStarting {
				s.mu.Unlock()
				return
			}
			s.state = StateWaitingRoom
			timeoutCb := s.cbs.OnStartTimeout
			s.mu.Unlock()
			s.log.Warnf("host never sent the start signal, returning to lobby")
			if timeoutCb != nil {
				timeoutCb()
			}
		}
	}()
}

// guestStart reacts to the host's start broadcast. Receiving it twice must not
// double-start.
func (s *Session) guestStart() {
	s.mu.Lock()
	if s.started || (s.state != StateWaitingRoom && s.state != StateStarting) {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.state = StateStarting
	close(s.startCh)
	s.startCh = make(chan struct{})
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StateStarting)
	}

	go func() {
		<-s.clock.After(startDelay)
		s.enterPlaying()
	}()
}

// enterPlaying starts the local match clock and the rate-limited score broadcast.
func (s *Session) enterPlaying() {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.state = StatePlaying
	stop := make(chan struct{})
	s.stopBroadcast = stop
	cb := s.cbs.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StatePlaying)
	}

	go s.broadcastLoop(stop)
}

// broadcastLoop sends the current score every interval while it keeps changing.
// Redundant identical values are suppressed; send failures are logged and ignored.
func (s *Session) broadcastLoop(stop chan struct{}) {
	ticker := s.clock.NewTicker(scoreInterval)
	defer ticker.Stop()

	lastSent := -1
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		s.mu.Lock()
		score := s.score
		s.mu.Unlock()
		if score == lastSent {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), broadcastCtxBudget)
		err := s.mgr.Send(ctx, channel.Message{Event: channel.EventScoreUpdate, Score: score})
		cancel()
		if err != nil {
			s.log.Warnf("failed to broadcast score: %v", err)
			continue
		}
		lastSent = score
	}
}

func (s *Session) stopBroadcastLocked() {
	if s.stopBroadcast != nil {
		close(s.stopBroadcast)
		s.stopBroadcast = nil
	}
}

// handleMessage is the typed dispatch for inbound channel broadcasts. The manager
// already filters out the local client's own messages.
func (s *Session) handleMessage(msg channel.Message) {
	switch msg.Event {
	case channel.EventScoreUpdate:
		s.mu.Lock()
		if s.opponentFinal || s.state == StateFinished || s.state == StateIdle {
			// A live update arriving after the final score, or after the match is
			// recorded, is stale by definition.
			s.mu.Unlock()
			return
		}
		s.opponentScore = msg.Score
		cb := s.cbs.OnOpponentScore
		s.mu.Unlock()
		if cb != nil {
			cb(msg.Score)
		}

	case channel.EventFinalScore:
		s.mu.Lock()
		if s.opponentFinal {
			s.mu.Unlock()
			return
		}
		s.opponentFinal = true
		s.opponentScore = msg.Score
		close(s.finalCh)
		s.finalCh = make(chan struct{})
		cb := s.cbs.OnOpponentScore
		s.mu.Unlock()
		s.log.Infof("received opponent final score: %d", msg.Score)
		if cb != nil {
			cb(msg.Score)
		}

	case channel.EventMiss:
		s.mu.Lock()
		already := s.opponentMissed
		s.opponentMissed = true
		cb := s.cbs.OnOpponentMiss
		s.mu.Unlock()
		if !already && cb != nil {
			// The gameplay layer ends the local game in response.
			cb()
		}

	case channel.EventGameStart:
		if !s.mgr.IsHost() {
			s.guestStart()
		}

	case channel.EventEmoji:
		s.mu.Lock()
		cb := s.cbs.OnEmoji
		s.mu.Unlock()
		if cb != nil {
			cb(msg.Emoji)
		}
	}
}

// handleOpponentGone turns a mid-match opponent disconnect into an automatic local
// win; the survivor does not wait out the reconcile timeout for a score that will
// never come. Lobby-phase departures are already covered by the store-side diff and
// the migration path.
func (s *Session) handleOpponentGone(snapshot *models.Room) {
	if snapshot == nil || snapshot.Status != models.StatusPlaying {
		return
	}
	s.mu.Lock()
	if s.state != StatePlaying && s.state != StateReconciling {
		s.mu.Unlock()
		return
	}
	if s.forfeitWin {
		s.mu.Unlock()
		return
	}
	s.forfeitWin = true
	close(s.forfeitCh)
	s.forfeitCh = make(chan struct{})
	wasPlaying := s.state == StatePlaying
	s.mu.Unlock()

	s.log.Warnf("opponent disconnected mid-match, claiming the win")
	if wasPlaying {
		go s.ReportMatchEnd()
	}
}
