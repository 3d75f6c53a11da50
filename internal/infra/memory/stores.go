package memory

import (
	"context"
	"sync"

	"quiz-match-service/internal/domain"
)

// ConfigStore keeps active game configs by game type.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]domain.RoundConfig
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{configs: make(map[string]domain.RoundConfig)}
}

// Put activates cfg for gameType, replacing any previous one.
func (s *ConfigStore) Put(gameType string, cfg domain.RoundConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[gameType] = cfg
}

func (s *ConfigStore) ActiveConfig(_ context.Context, gameType string) (domain.RoundConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[gameType]
	if !ok {
		return domain.RoundConfig{}, domain.ErrConfigNotFound
	}
	return cfg, nil
}

// LeaderboardStore appends entries per scope in insertion order.
type LeaderboardStore struct {
	mu      sync.RWMutex
	entries map[string][]domain.LeaderboardEntry
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{entries: make(map[string][]domain.LeaderboardEntry)}
}

func (s *LeaderboardStore) Append(_ context.Context, entry domain.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entry.Scope + "/" + entry.ScopeID
	s.entries[key] = append(s.entries[key], entry)
	return nil
}

func (s *LeaderboardStore) Entries(_ context.Context, scope, scopeID string) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.entries[scope+"/"+scopeID]
	out := make([]domain.LeaderboardEntry, len(src))
	copy(out, src)
	return out, nil
}

// ResultLog is a sink that keeps everything in memory. It stands in for the
// database when none is configured.
type ResultLog struct {
	mu      sync.RWMutex
	entries []domain.LeaderboardEntry
	results []domain.MatchResult
}

func NewResultLog() *ResultLog {
	return &ResultLog{}
}

func (l *ResultLog) AppendLeaderboardEntry(_ context.Context, entry domain.LeaderboardEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *ResultLog) RecordMatchResult(_ context.Context, result domain.MatchResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, result)
	return nil
}

// Results returns a copy of the recorded match results.
func (l *ResultLog) Results() []domain.MatchResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.MatchResult, len(l.results))
	copy(out, l.results)
	return out
}

// EntryCount is the number of leaderboard entries persisted.
func (l *ResultLog) EntryCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
