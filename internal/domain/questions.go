package domain

import (
	"math/rand"
	"strconv"
)

// Matches reports whether q passes the category and difficulty of f.
func (f QuestionFilter) Matches(q Question) bool {
	if f.Category != "" && q.Category != f.Category {
		return false
	}
	if f.Difficulty != 0 && q.Difficulty != f.Difficulty {
		return false
	}
	return true
}

// PoolKey identifies the cacheable pool behind f. Limit is applied after the
// pool is loaded, so it is not part of the key.
func (f QuestionFilter) PoolKey() string {
	category := f.Category
	if category == "" {
		category = "*"
	}
	return category + ":" + strconv.Itoa(f.Difficulty)
}

// SampleQuestions returns up to limit questions drawn at random from pool
// without repetition. limit <= 0 returns the whole pool. pool is not modified.
func SampleQuestions(pool []Question, limit int, rnd *rand.Rand) []Question {
	out := make([]Question, len(pool))
	copy(out, pool)
	if limit <= 0 || limit >= len(out) {
		return out
	}
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:limit]
}
