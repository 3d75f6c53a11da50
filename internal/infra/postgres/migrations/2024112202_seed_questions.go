package migrations

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"quiz-match-service/internal/config"
	"quiz-match-service/internal/infra/memory"
	"quiz-match-service/internal/infra/postgres"
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				var (
					questions []postgres.QuestionModel
					choices   []postgres.ChoiceModel
				)
				for _, q := range memory.BuiltinQuestions() {
					questions = append(questions, postgres.QuestionModel{
						ID:           q.ID,
						Prompt:       q.Prompt,
						Category:     q.Category,
						Difficulty:   q.Difficulty,
						TimeLimitSec: q.TimeLimitSec,
					})
					for i, c := range q.Choices {
						choices = append(choices, postgres.ChoiceModel{
							ID:         c.ID,
							QuestionID: q.ID,
							Position:   i,
							Text:       c.Text,
							Correct:    c.Correct,
						})
					}
				}
				if _, err := tx.NewInsert().Model(&questions).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
					return err
				}
				if _, err := tx.NewInsert().Model(&choices).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
					return err
				}
				defaults := config.DefaultRoundConfig()
				_, err := tx.NewInsert().Model(&postgres.GameConfigModel{
					GameType:  defaults.GameType,
					Active:    true,
					Config:    defaults,
					UpdatedAt: time.Now().UTC(),
				}).Exec(ctx)
				return err
			})
		},
		func(ctx context.Context, db *bun.DB) error {
			return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				if _, err := tx.ExecContext(ctx, `DELETE FROM game_configs WHERE game_type = ?`, config.DefaultRoundConfig().GameType); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM question_choices`); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `DELETE FROM questions`)
				return err
			})
		},
	)
}
