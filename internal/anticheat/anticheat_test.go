// internal/anticheat/anticheat_test.go
package anticheat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegativeScoreAlwaysRejected(t *testing.T) {
	for _, d := range []int{0, 1, 30, 60, 120} {
		ok, reason := Validate(-1, d)
		assert.False(t, ok, "duration %d", d)
		assert.Equal(t, "negative score", reason)
	}
}

func TestZeroScoreAlwaysAccepted(t *testing.T) {
	for _, d := range []int{1, 30, 60, 120} {
		ok, reason := Validate(0, d)
		assert.True(t, ok, "duration %d", d)
		assert.Empty(t, reason)
	}
}

func TestPlausibleScoreAccepted(t *testing.T) {
	// 60s at a realistic 6 KPS with perfect combos lands well under the bound.
	ok, _ := Validate(4000, 60)
	assert.True(t, ok)
}

func TestImpossibleScoreRejected(t *testing.T) {
	limit := MaxPlausibleScore(60)
	ok, reason := Validate(limit+1, 60)
	assert.False(t, ok)
	assert.Contains(t, reason, "exceeds maximum possible score")

	ok, _ = Validate(limit, 60)
	assert.True(t, ok, "bound itself is still plausible")
}

func TestMaxPlausibleScoreFormula(t *testing.T) {
	// 60s: 600 keys, 300 combo bonus, 10.5 per key, *1.2 => 7560.
	assert.Equal(t, 7560, MaxPlausibleScore(60))
	// 30s: 300 keys, 150 bonus, 10.5 per key, *1.2 => 3780.
	assert.Equal(t, 3780, MaxPlausibleScore(30))
	assert.Equal(t, 0, MaxPlausibleScore(0))
}

func TestSanitizeCoercesToZero(t *testing.T) {
	score, reason := Sanitize(999999, 60)
	assert.Zero(t, score)
	assert.NotEmpty(t, reason)

	score, reason = Sanitize(1200, 60)
	assert.Equal(t, 1200, score)
	assert.Empty(t, reason)
}
