// internal/anticheat/anticheat.go
package anticheat

import (
	"fmt"
	"math"
)

// MaxKPS is the assumed ceiling on sustained human typing speed. World-class typists
// peak around 12 keys per second; 10 plus the 20% margin below covers them.
const MaxKPS = 10

// pointsPerKey and comboBonus mirror the scoring formula: 10 points a key plus 5
// bonus points every 10-key combo.
const (
	pointsPerKey       = 10
	comboBonusInterval = 10
	comboBonusPoints   = 5
	safetyMargin       = 1.2
)

// MaxPlausibleScore returns the highest score a human could reach in durationSeconds,
// assuming a perfect unbroken combo at MaxKPS, inflated by the safety margin.
func MaxPlausibleScore(durationSeconds int) int {
	maxKeys := MaxKPS * durationSeconds
	if maxKeys <= 0 {
		return 0
	}
	maxComboBonus := (maxKeys / comboBonusInterval) * comboBonusPoints
	perKey := float64(pointsPerKey) + float64(maxComboBonus)/float64(maxKeys)
	return int(math.Ceil(float64(maxKeys) * perKey * safetyMargin))
}

// Validate reports whether score is physically plausible for a match of
// durationSeconds. The returned reason is for diagnostic logging only.
func Validate(score, durationSeconds int) (bool, string) {
	if score < 0 {
		return false, "negative score"
	}
	if limit := MaxPlausibleScore(durationSeconds); score > limit {
		return false, fmt.Sprintf("score %d exceeds maximum possible score %d (max KPS: %d, duration: %ds)",
			score, limit, MaxKPS, durationSeconds)
	}
	return true, ""
}

// Sanitize coerces an implausible score to zero rather than failing the match. The
// reason is empty for valid scores.
func Sanitize(score, durationSeconds int) (int, string) {
	if ok, reason := Validate(score, durationSeconds); !ok {
		return 0, reason
	}
	return score, ""
}
