package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/infra/memory"
)

// QuestionCache caches question pools in Redis as JSON (one key per category
// and difficulty) and falls back to a loader on cache miss:
//
//	SET quiz:questions:{category}:{difficulty} <json> EX ttl
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// QuestionsByFilter returns up to filter.Limit random questions of the pool.
func (c *QuestionCache) QuestionsByFilter(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	pool, err := c.pool(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, domain.ErrQuestionsUnavailable
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return domain.SampleQuestions(pool, filter.Limit, c.rnd), nil
}

func (c *QuestionCache) pool(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := c.key(filter)
	if pool, ok := c.cached(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := c.cached(ctx, key); ok {
			return pool, nil
		}
		pool, err := c.loader.LoadQuestions(ctx, domain.QuestionFilter{Category: filter.Category, Difficulty: filter.Difficulty})
		if err != nil {
			return nil, err
		}
		if len(pool) > 0 {
			if raw, err := json.Marshal(pool); err == nil {
				// best-effort: a failed write only costs a reload
				_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
			}
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil || len(pool) == 0 {
		return nil, false
	}
	return pool, true
}

// Invalidate drops the cached pool for filter.
func (c *QuestionCache) Invalidate(ctx context.Context, filter domain.QuestionFilter) error {
	return c.client.Del(ctx, c.key(filter)).Err()
}

func (c *QuestionCache) key(filter domain.QuestionFilter) string {
	return "quiz:questions:" + filter.PoolKey()
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
