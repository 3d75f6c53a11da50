package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-match-service/internal/domain"
)

// LeaderboardStore keeps append-only entries as a JSON list per scope:
//
//	RPUSH quiz:leaderboard:{scope}:{scopeId} <json>
//
// A list rather than a sorted set keeps insertion order for the tie-break.
type LeaderboardStore struct {
	client *redis.Client
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client}
}

func (s *LeaderboardStore) Append(ctx context.Context, entry domain.LeaderboardEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode leaderboard entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.key(entry.Scope, entry.ScopeID), raw).Err(); err != nil {
		return fmt.Errorf("append leaderboard entry: %w", err)
	}
	return nil
}

func (s *LeaderboardStore) Entries(ctx context.Context, scope, scopeID string) ([]domain.LeaderboardEntry, error) {
	values, err := s.client.LRange(ctx, s.key(scope, scopeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard %s/%s: %w", scope, scopeID, err)
	}
	out := make([]domain.LeaderboardEntry, 0, len(values))
	for _, v := range values {
		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *LeaderboardStore) key(scope, scopeID string) string {
	return "quiz:leaderboard:" + scope + ":" + scopeID
}
