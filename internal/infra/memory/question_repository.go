package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"quiz-match-service/internal/domain"
)

// QuestionLoader fetches every question matching a filter from a backing
// store. Limit is ignored by loaders; repositories sample from the pool.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches question pools with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPool),
	}
}

// QuestionsByFilter returns up to filter.Limit random questions from the
// matching pool.
func (r *QuestionRepository) QuestionsByFilter(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	pool, err := r.pool(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, domain.ErrQuestionsUnavailable
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return domain.SampleQuestions(pool, filter.Limit, r.rnd), nil
}

func (r *QuestionRepository) pool(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := filter.PoolKey()
	if pool, ok := r.cached(key); ok {
		return pool, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if pool, ok := r.cached(key); ok {
			return pool, nil
		}
		pool, err := r.loader.LoadQuestions(ctx, domain.QuestionFilter{Category: filter.Category, Difficulty: filter.Difficulty})
		if err != nil {
			return nil, err
		}
		if len(pool) > 0 && r.ttl > 0 {
			r.mu.Lock()
			r.cache[key] = cachedPool{questions: pool, expiresAt: r.clock().Add(r.ttlWithJitter())}
			r.mu.Unlock()
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) cached(key string) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return nil, false
	}
	return entry.questions, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves a fixed slice (tests, demos, the built-in pool).
type StaticQuestionLoader struct {
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(l.questions))
	for _, q := range l.questions {
		if filter.Matches(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// FallbackLoader reads from primary and switches to fallback when primary
// fails or has nothing for the filter.
type FallbackLoader struct {
	primary  QuestionLoader
	fallback QuestionLoader
	log      logrus.FieldLogger
}

func NewFallbackLoader(primary, fallback QuestionLoader, log logrus.FieldLogger) *FallbackLoader {
	return &FallbackLoader{primary: primary, fallback: fallback, log: log.WithField("component", "questions")}
}

func (l *FallbackLoader) LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	questions, err := l.primary.LoadQuestions(ctx, filter)
	if err == nil && len(questions) > 0 {
		return questions, nil
	}
	entry := l.log.WithFields(logrus.Fields{"category": filter.Category, "difficulty": filter.Difficulty})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("question store unavailable or empty, using built-in pool")
	return l.fallback.LoadQuestions(ctx, filter)
}
