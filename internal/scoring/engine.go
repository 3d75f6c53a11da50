// Package scoring holds the pure point, penalty, XP and level rules. Every
// function is total and deterministic.
package scoring

import (
	"math"

	"quiz-match-service/internal/domain"
)

// Result is the value of one answer.
type Result struct {
	Points      float64
	TimeBonus   int
	StreakBonus int
	NewStreak   int
}

// ScoreForAnswer values a single answer.
//
// Incorrect answers earn nothing and reset the streak. A correct answer earns
// the base value plus floor(remaining/limit * cap) as time bonus (zero when
// untimed) and streak * unit as streak bonus, then extends the streak.
// Evaluation mode uses PointsPerQuestion as base and grants no bonuses so a
// perfect match totals exactly 10.
func ScoreForAnswer(correct bool, timeRemainingSec, timeLimitSec, currentStreak int, cfg domain.RoundConfig) Result {
	if !correct {
		return Result{}
	}
	if currentStreak < 0 {
		currentStreak = 0
	}
	res := Result{NewStreak: currentStreak + 1}

	if cfg.ScoringMode == domain.ScoringEvaluation {
		res.Points = cfg.PointsPerQuestion()
		return res
	}

	res.TimeBonus = TimeBonus(timeRemainingSec, timeLimitSec, cfg.TimeBonusCap)
	res.StreakBonus = currentStreak * cfg.StreakUnit
	res.Points = cfg.BasePoints + float64(res.TimeBonus) + float64(res.StreakBonus)
	return res
}

// TimeBonus is floor(remaining/limit * cap), clamped to [0, cap].
func TimeBonus(timeRemainingSec, timeLimitSec, bonusCap int) int {
	if timeLimitSec <= 0 || bonusCap <= 0 || timeRemainingSec <= 0 {
		return 0
	}
	if timeRemainingSec > timeLimitSec {
		timeRemainingSec = timeLimitSec
	}
	return int(math.Floor(float64(timeRemainingSec) / float64(timeLimitSec) * float64(bonusCap)))
}

// PenaltyForExtraAttempts is (attemptsUsed-1) * PenaltyPerError.
func PenaltyForExtraAttempts(attemptsUsed int, cfg domain.RoundConfig) float64 {
	if attemptsUsed <= 1 {
		return 0
	}
	return float64(attemptsUsed-1) * cfg.PenaltyPerError()
}

// ApplyPenalty deducts penalty from points without going below zero.
func ApplyPenalty(points, penalty float64) float64 {
	if penalty <= 0 {
		return points
	}
	if points-penalty < 0 {
		return 0
	}
	return points - penalty
}

// XPFromScore is round(score*10*(1+(difficulty-1)*0.2) + timeBonus), floored at 0.
func XPFromScore(score float64, difficulty int, timeBonus int) int {
	multiplier := 1 + float64(difficulty-1)*0.2
	xp := int(math.Round(score*10*multiplier + float64(timeBonus)))
	if xp < 0 {
		return 0
	}
	return xp
}

// LevelFromXP is floor(sqrt(xp/100)) + 1.
func LevelFromXP(totalXP int) int {
	if totalXP <= 0 {
		return 1
	}
	return int(math.Floor(math.Sqrt(float64(totalXP)/100))) + 1
}

// LevelThreshold is the XP at which level starts: (level-1)^2 * 100.
func LevelThreshold(level int) int {
	if level <= 1 {
		return 0
	}
	return (level - 1) * (level - 1) * 100
}

// LevelProgressPercent interpolates linearly between the current and the next
// level threshold.
func LevelProgressPercent(totalXP int) int {
	if totalXP <= 0 {
		return 0
	}
	level := LevelFromXP(totalXP)
	floor := LevelThreshold(level)
	ceil := LevelThreshold(level + 1)
	pct := int(math.Floor(float64(totalXP-floor) / float64(ceil-floor) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// NextDifficulty adapts the tier: up one after every second consecutive
// correct answer, down one after a miss.
func NextDifficulty(current int, correct bool, newStreak int) int {
	if current < domain.MinDifficulty {
		current = domain.MinDifficulty
	}
	if correct {
		if newStreak > 0 && newStreak%2 == 0 && current < domain.MaxDifficulty {
			return current + 1
		}
		return current
	}
	if current > domain.MinDifficulty {
		return current - 1
	}
	return current
}
