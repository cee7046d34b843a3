// internal/stats/stats_test.go
package stats

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uta1508/NeonType/internal/match"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestTrackerCountsOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	tr := NewTracker(path, quietLog())

	tr.RecordMatch(match.Result{Outcome: match.OutcomeWin})
	tr.RecordMatch(match.Result{Outcome: match.OutcomeLoss})
	tr.RecordMatch(match.Result{Outcome: match.OutcomeDraw})
	tr.RecordMatch(match.Result{Outcome: match.OutcomeWin, Degraded: true})

	s := tr.Stats()
	assert.Equal(t, 4, s.Battles)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 1, s.Draws)
	assert.Equal(t, 1, s.Degraded)
}

func TestTrackerSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	tr := NewTracker(path, quietLog())
	tr.RecordMatch(match.Result{Outcome: match.OutcomeWin})
	tr.RecordMatch(match.Result{Outcome: match.OutcomeWin})

	reloaded := NewTracker(path, quietLog())
	s := reloaded.Stats()
	assert.Equal(t, 2, s.Battles)
	assert.Equal(t, 2, s.Wins)
}

func TestTrackerToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	tr := NewTracker(path, quietLog())
	assert.Equal(t, Stats{}, tr.Stats())

	tr.RecordMatch(match.Result{Outcome: match.OutcomeLoss})
	assert.Equal(t, 1, tr.Stats().Battles)
}
