package gameconfig

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"quiz-match-service/internal/domain"
)

// Store returns the active rule set for a game type. Implementations return
// domain.ErrConfigNotFound when none is active.
type Store interface {
	ActiveConfig(ctx context.Context, gameType string) (domain.RoundConfig, error)
}

// Resolver picks the RoundConfig for a match. It never fails: store errors and
// missing rows resolve to the built-in defaults.
type Resolver struct {
	store    Store
	defaults domain.RoundConfig
	ttl      time.Duration
	clock    func() time.Time
	log      logrus.FieldLogger
	sf       singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedConfig
}

type cachedConfig struct {
	cfg       domain.RoundConfig
	expiresAt time.Time
}

func NewResolver(store Store, defaults domain.RoundConfig, ttl time.Duration, log logrus.FieldLogger) *Resolver {
	return &Resolver{
		store:    store,
		defaults: Normalize(defaults, domain.RoundConfig{}),
		ttl:      ttl,
		clock:    time.Now,
		log:      log.WithField("component", "gameconfig"),
		cache:    make(map[string]cachedConfig),
	}
}

// Defaults returns the built-in rule set.
func (r *Resolver) Defaults() domain.RoundConfig {
	return r.defaults
}

// Resolve returns the active config for gameType or the defaults.
func (r *Resolver) Resolve(ctx context.Context, gameType string) domain.RoundConfig {
	if cfg, ok := r.cached(gameType); ok {
		return cfg
	}

	result, _, _ := r.sf.Do(gameType, func() (interface{}, error) {
		if cfg, ok := r.cached(gameType); ok {
			return cfg, nil
		}
		if r.store == nil {
			return r.withType(gameType), nil
		}

		stored, err := r.store.ActiveConfig(ctx, gameType)
		switch {
		case errors.Is(err, domain.ErrConfigNotFound):
			cfg := r.withType(gameType)
			r.remember(gameType, cfg)
			return cfg, nil
		case err != nil:
			// Not cached: the next match retries the store.
			r.log.WithError(err).WithField("game_type", gameType).Warn("config store unavailable, using defaults")
			return r.withType(gameType), nil
		}

		cfg := Normalize(stored, r.defaults)
		cfg.GameType = gameType
		r.remember(gameType, cfg)
		return cfg, nil
	})
	return result.(domain.RoundConfig)
}

// Invalidate drops a cached entry so the next Resolve hits the store.
func (r *Resolver) Invalidate(gameType string) {
	r.mu.Lock()
	delete(r.cache, gameType)
	r.mu.Unlock()
}

func (r *Resolver) withType(gameType string) domain.RoundConfig {
	cfg := r.defaults
	if gameType != "" {
		cfg.GameType = gameType
	}
	return cfg
}

func (r *Resolver) cached(gameType string) (domain.RoundConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[gameType]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.RoundConfig{}, false
	}
	return entry.cfg, true
}

func (r *Resolver) remember(gameType string, cfg domain.RoundConfig) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[gameType] = cachedConfig{cfg: cfg, expiresAt: r.clock().Add(r.ttl)}
	r.mu.Unlock()
}

// Normalize fills zero or out-of-range fields of cfg from fallback and clamps
// the rest into valid ranges.
func Normalize(cfg, fallback domain.RoundConfig) domain.RoundConfig {
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = fallback.QuestionCount
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 10
	}
	if cfg.MaxAttemptsPerQuestion <= 0 {
		cfg.MaxAttemptsPerQuestion = fallback.MaxAttemptsPerQuestion
	}
	if cfg.MaxAttemptsPerQuestion <= 0 {
		cfg.MaxAttemptsPerQuestion = 1
	}
	if cfg.ScoringMode != domain.ScoringEvaluation && cfg.ScoringMode != domain.ScoringPractice {
		cfg.ScoringMode = fallback.ScoringMode
		if cfg.ScoringMode == "" {
			cfg.ScoringMode = domain.ScoringPractice
		}
	}
	if cfg.RevealDelaySec < 0 {
		cfg.RevealDelaySec = 0
	}
	if cfg.TimePerQuestionSec != nil && *cfg.TimePerQuestionSec <= 0 {
		cfg.TimePerQuestionSec = nil
	}
	if cfg.ScoringMode == domain.ScoringPractice && cfg.BasePoints <= 0 {
		cfg.BasePoints = fallback.BasePoints
		if cfg.BasePoints <= 0 {
			cfg.BasePoints = 100
		}
	}
	if cfg.TimeBonusCap < 0 {
		cfg.TimeBonusCap = 0
	}
	if cfg.StreakUnit < 0 {
		cfg.StreakUnit = 0
	}
	if cfg.Difficulty < 0 || cfg.Difficulty > domain.MaxDifficulty {
		cfg.Difficulty = 0
	}
	return cfg
}
