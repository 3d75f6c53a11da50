package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-match-service/internal/domain"
)

// QuestionLoader reads questions and their choices from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

const questionsQuery = `
SELECT q.id, q.prompt, q.category, q.difficulty, q.time_limit_sec, c.id, c.text, c.correct
FROM questions q
JOIN question_choices c ON c.question_id = q.id
WHERE ($1 = '' OR q.category = $1) AND ($2 = 0 OR q.difficulty = $2)
ORDER BY q.id, c.position`

func (l *QuestionLoader) LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, questionsQuery, filter.Category, filter.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q domain.Question
			c domain.Choice
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &q.Category, &q.Difficulty, &q.TimeLimitSec, &c.ID, &c.Text, &c.Correct); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].ID == q.ID {
			out[n-1].Choices = append(out[n-1].Choices, c)
			continue
		}
		q.Choices = []domain.Choice{c}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// ConfigStore reads the active game config for a game type.
type ConfigStore struct {
	pool *pgxpool.Pool
}

func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

func (s *ConfigStore) ActiveConfig(ctx context.Context, gameType string) (domain.RoundConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT config FROM game_configs WHERE game_type=$1 AND active ORDER BY updated_at DESC LIMIT 1`,
		gameType,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoundConfig{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.RoundConfig{}, fmt.Errorf("load game config %q: %w", gameType, err)
	}
	var cfg domain.RoundConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.RoundConfig{}, fmt.Errorf("unmarshal game config %q: %w", gameType, err)
	}
	return cfg, nil
}
