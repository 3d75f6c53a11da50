package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"quiz-match-service/internal/infra/postgres"
)

var tableModels = []interface{}{
	(*postgres.QuestionModel)(nil),
	(*postgres.ChoiceModel)(nil),
	(*postgres.GameConfigModel)(nil),
	(*postgres.LeaderboardEntryModel)(nil),
	(*postgres.MatchResultModel)(nil),
}

var tableIndexes = []string{
	`CREATE INDEX IF NOT EXISTS questions_category_difficulty_idx ON questions (category, difficulty)`,
	`CREATE INDEX IF NOT EXISTS question_choices_question_idx ON question_choices (question_id, position)`,
	`CREATE INDEX IF NOT EXISTS game_configs_active_idx ON game_configs (game_type, updated_at DESC) WHERE active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS leaderboard_entries_match_player_uq ON leaderboard_entries (scope, scope_id, match_id, player_id)`,
	`CREATE INDEX IF NOT EXISTS leaderboard_entries_rank_idx ON leaderboard_entries (scope, scope_id, score DESC, created_at ASC)`,
}

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			for _, model := range tableModels {
				if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
					return fmt.Errorf("create table: %w", err)
				}
			}
			for _, stmt := range tableIndexes {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create index: %w", err)
				}
			}
			return nil
		},
		func(ctx context.Context, db *bun.DB) error {
			for i := len(tableModels) - 1; i >= 0; i-- {
				if _, err := db.NewDropTable().Model(tableModels[i]).IfExists().Exec(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	)
}
