// Package leaderboard keeps the append-only ranking history and answers
// top-N queries per scope.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-match-service/internal/domain"
)

// Store persists leaderboard entries. Entries returns everything recorded for a
// scope; ranking happens in Rank so every store orders ties the same way.
type Store interface {
	Append(ctx context.Context, entry domain.LeaderboardEntry) error
	Entries(ctx context.Context, scope, scopeID string) ([]domain.LeaderboardEntry, error)
}

// Queue hands entries to the durable sink. It must not block.
type Queue interface {
	EnqueueEntry(entry domain.LeaderboardEntry) bool
}

// Scope names one leaderboard.
type Scope struct {
	Scope   string
	ScopeID string
}

// Global is the overall leaderboard every finished match writes to.
var Global = Scope{Scope: domain.ScopeOverall, ScopeID: domain.ScopeIDGlobal}

// Aggregator records match results into one or more scopes.
type Aggregator struct {
	store Store
	queue Queue
	clock func() time.Time
	log   logrus.FieldLogger
}

func NewAggregator(store Store, queue Queue, log logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		store: store,
		queue: queue,
		clock: time.Now,
		log:   log.WithField("component", "leaderboard"),
	}
}

// Record appends entry and forwards it to the sink. Failures are logged and
// swallowed: a broken store never affects the match that produced the entry.
func (a *Aggregator) Record(ctx context.Context, entry domain.LeaderboardEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.clock()
	}
	if err := a.store.Append(ctx, entry); err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{
			"scope":  entry.Scope + "/" + entry.ScopeID,
			"player": entry.PlayerID,
			"match":  entry.MatchID,
		}).Error("append leaderboard entry")
	}
	if a.queue != nil && !a.queue.EnqueueEntry(entry) {
		a.log.WithField("match", entry.MatchID).Warn("sink queue full, leaderboard entry not persisted")
	}
}

// RecordMatch writes one entry per player of a finished match to the global
// scope and to every extra scope given.
func (a *Aggregator) RecordMatch(ctx context.Context, result domain.MatchResult, extra ...Scope) {
	scopes := append([]Scope{Global}, extra...)
	createdAt := result.FinishedAt
	if createdAt.IsZero() {
		createdAt = a.clock()
	}
	for _, scope := range scopes {
		if scope.Scope == "" || scope.ScopeID == "" {
			continue
		}
		for _, s := range result.Standings {
			a.Record(ctx, domain.LeaderboardEntry{
				Scope:       scope.Scope,
				ScopeID:     scope.ScopeID,
				PlayerID:    s.PlayerID,
				DisplayName: s.DisplayName,
				MatchID:     result.MatchID,
				Score:       s.Score,
				CreatedAt:   createdAt,
			})
		}
	}
}

// Top returns the n best entries of a scope. n <= 0 returns all of them.
func (a *Aggregator) Top(ctx context.Context, scope, scopeID string, n int) ([]domain.RankedEntry, error) {
	entries, err := a.store.Entries(ctx, scope, scopeID)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard %s/%s: %w", scope, scopeID, err)
	}
	return Rank(entries, n), nil
}

// Rank orders entries by score descending, earlier CreatedAt first on ties,
// then insertion order, and keeps the first n.
func Rank(entries []domain.LeaderboardEntry, n int) []domain.RankedEntry {
	sorted := make([]domain.LeaderboardEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]domain.RankedEntry, 0, len(sorted))
	for i, e := range sorted {
		out = append(out, domain.RankedEntry{Rank: i + 1, LeaderboardEntry: e})
	}
	return out
}
