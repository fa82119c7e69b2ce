// Package rating implements the zero-sum Elo adjustment applied exactly once
// per terminal session. The functions are pure and never fail.
package rating

import "math"

// DefaultK is the K-factor used for every update.
const DefaultK = 32

// DefaultInitial seeds a participant's first rating entry.
const DefaultInitial = 1200

func expected(own, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-own)/400))
}

// Results are rounded half away from zero (round-half-up on this positive
// domain). The rule is observable in rating history, so it must stay fixed.
func adjust(current int, score, exp float64, k int) int {
	return int(math.Round(float64(current) + float64(k)*(score-exp)))
}

// AfterDecisive returns the new (winner, loser) ratings.
func AfterDecisive(winner, loser int) (int, int) {
	return AfterDecisiveK(winner, loser, DefaultK)
}

// AfterDecisiveK is AfterDecisive with an explicit K-factor.
func AfterDecisiveK(winner, loser, k int) (int, int) {
	return adjust(winner, 1, expected(winner, loser), k),
		adjust(loser, 0, expected(loser, winner), k)
}

// AfterDraw returns the new ratings for a drawn result, in argument order.
func AfterDraw(a, b int) (int, int) {
	return AfterDrawK(a, b, DefaultK)
}

// AfterDrawK is AfterDraw with an explicit K-factor.
func AfterDrawK(a, b, k int) (int, int) {
	return adjust(a, 0.5, expected(a, b), k),
		adjust(b, 0.5, expected(b, a), k)
}
