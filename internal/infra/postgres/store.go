package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"quiz-match-service/internal/domain"
)

// Store is the durable sink for finished matches and the history reader for
// leaderboards. Writes are idempotent so sink retries never duplicate rows.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AppendLeaderboardEntry(ctx context.Context, entry domain.LeaderboardEntry) error {
	_, err := s.db.NewInsert().
		Model(entryModel(entry)).
		On("CONFLICT (scope, scope_id, match_id, player_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert leaderboard entry: %w", err)
	}
	return nil
}

// Append lets Store back a leaderboard.Aggregator directly.
func (s *Store) Append(ctx context.Context, entry domain.LeaderboardEntry) error {
	return s.AppendLeaderboardEntry(ctx, entry)
}

func (s *Store) RecordMatchResult(ctx context.Context, result domain.MatchResult) error {
	model := &MatchResultModel{
		MatchID:     result.MatchID,
		RoomID:      result.RoomID,
		Mode:        string(result.Mode),
		TotalRounds: result.TotalRounds,
		Standings:   result.Standings,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
	}
	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (match_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}
	return nil
}

// Entries reads a scope in ranking order.
func (s *Store) Entries(ctx context.Context, scope, scopeID string) ([]domain.LeaderboardEntry, error) {
	var rows []LeaderboardEntryModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("scope = ?", scope).
		Where("scope_id = ?", scopeID).
		OrderExpr("score DESC, created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard %s/%s: %w", scope, scopeID, err)
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// MatchResult loads one stored result.
func (s *Store) MatchResult(ctx context.Context, matchID string) (domain.MatchResult, error) {
	var m MatchResultModel
	if err := s.db.NewSelect().Model(&m).Where("match_id = ?", matchID).Scan(ctx); err != nil {
		return domain.MatchResult{}, fmt.Errorf("select match result %s: %w", matchID, err)
	}
	return domain.MatchResult{
		MatchID:     m.MatchID,
		RoomID:      m.RoomID,
		Mode:        domain.Mode(m.Mode),
		TotalRounds: m.TotalRounds,
		Standings:   m.Standings,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}, nil
}
