package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/logging"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader(BuiltinQuestions())}
	repo := NewQuestionRepository(loader, time.Minute)
	filter := domain.QuestionFilter{Category: "science", Limit: 3}

	got, err := repo.QuestionsByFilter(context.Background(), filter)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got))
	}
	for _, q := range got {
		if q.Category != "science" {
			t.Fatalf("unexpected category %q", q.Category)
		}
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.QuestionsByFilter(context.Background(), domain.QuestionFilter{Category: "science", Limit: 5}); err != nil {
		t.Fatalf("questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuestionRepositoryExpires(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader(BuiltinQuestions())}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	if _, err := repo.QuestionsByFilter(context.Background(), domain.QuestionFilter{}); err != nil {
		t.Fatalf("questions: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := repo.QuestionsByFilter(context.Background(), domain.QuestionFilter{}); err != nil {
		t.Fatalf("questions after expiry: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls)
	}
}

func TestQuestionRepositoryEmptyPool(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(BuiltinQuestions()), time.Minute)
	_, err := repo.QuestionsByFilter(context.Background(), domain.QuestionFilter{Category: "sports"})
	if !errors.Is(err, domain.ErrQuestionsUnavailable) {
		t.Fatalf("expected ErrQuestionsUnavailable, got %v", err)
	}
}

func TestFallbackLoader(t *testing.T) {
	builtin := NewStaticQuestionLoader(BuiltinQuestions())
	broken := failingLoader{err: errors.New("connection refused")}
	loader := NewFallbackLoader(broken, builtin, logging.Discard())

	got, err := loader.LoadQuestions(context.Background(), domain.QuestionFilter{Category: "history", Difficulty: 1})
	if err != nil {
		t.Fatalf("fallback load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 easy history questions, got %d", len(got))
	}

	empty := NewStaticQuestionLoader(nil)
	loader = NewFallbackLoader(empty, builtin, logging.Discard())
	got, err = loader.LoadQuestions(context.Background(), domain.QuestionFilter{})
	if err != nil || len(got) != len(BuiltinQuestions()) {
		t.Fatalf("expected built-in pool for empty primary, got %d (%v)", len(got), err)
	}
}

func TestBuiltinQuestionsAreWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, q := range BuiltinQuestions() {
		if seen[q.ID] {
			t.Fatalf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = true
		if q.CorrectChoiceID() == "" {
			t.Fatalf("question %s has no correct choice", q.ID)
		}
		if q.Difficulty < domain.MinDifficulty || q.Difficulty > domain.MaxDifficulty {
			t.Fatalf("question %s has difficulty %d", q.ID, q.Difficulty)
		}
	}
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, filter)
}

type failingLoader struct{ err error }

func (l failingLoader) LoadQuestions(context.Context, domain.QuestionFilter) ([]domain.Question, error) {
	return nil, l.err
}
