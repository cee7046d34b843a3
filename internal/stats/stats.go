// internal/stats/stats.go
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/uta1508/NeonType/internal/match"
)

// Stats is the lifetime battle ledger shown on the result screen.
type Stats struct {
	Battles  int `json:"battles"`
	Wins     int `json:"wins"`
	Losses   int `json:"losses"`
	Draws    int `json:"draws"`
	Degraded int `json:"degraded"`
}

// Tracker persists Stats to a JSON file after every match. It implements
// match.StatsRecorder.
type Tracker struct {
	log  *logrus.Logger
	path string

	mu    sync.Mutex
	stats Stats
}

// NewTracker loads the ledger from path. A missing or unreadable file starts the
// ledger from zero rather than failing; losing old counts beats refusing to play.
func NewTracker(path string, log *logrus.Logger) *Tracker {
	t := &Tracker{log: log, path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("failed to read stats file %s: %v", path, err)
		}
		return t
	}
	if err := json.Unmarshal(data, &t.stats); err != nil {
		log.Warnf("stats file %s is corrupt, starting over: %v", path, err)
		t.stats = Stats{}
	}
	return t
}

// RecordMatch folds one finished match into the ledger and saves it.
func (t *Tracker) RecordMatch(res match.Result) {
	t.mu.Lock()
	t.stats.Battles++
	switch res.Outcome {
	case match.OutcomeWin:
		t.stats.Wins++
	case match.OutcomeLoss:
		t.stats.Losses++
	case match.OutcomeDraw:
		t.stats.Draws++
	}
	if res.Degraded {
		t.stats.Degraded++
	}
	snapshot := t.stats
	t.mu.Unlock()

	if err := t.save(snapshot); err != nil {
		t.log.Warnf("failed to persist stats: %v", err)
	}
}

// Stats returns the current ledger.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tracker) save(s Stats) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return fmt.Errorf("failed to create stats dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}
