package postgres

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-match-service/internal/domain"
)

// OpenBun opens a bun handle over the pgdriver connector.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type QuestionModel struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID           string `bun:"id,pk"`
	Prompt       string `bun:"prompt,notnull"`
	Category     string `bun:"category,notnull,default:''"`
	Difficulty   int    `bun:"difficulty,notnull,default:1"`
	TimeLimitSec int    `bun:"time_limit_sec,notnull,default:0"`
}

type ChoiceModel struct {
	bun.BaseModel `bun:"table:question_choices,alias:c"`

	ID         string `bun:"id,pk"`
	QuestionID string `bun:"question_id,notnull"`
	Position   int    `bun:"position,notnull"`
	Text       string `bun:"text,notnull"`
	Correct    bool   `bun:"correct,notnull,default:false"`
}

type GameConfigModel struct {
	bun.BaseModel `bun:"table:game_configs,alias:gc"`

	ID        int64              `bun:"id,pk,autoincrement"`
	GameType  string             `bun:"game_type,notnull"`
	Active    bool               `bun:"active,notnull,default:true"`
	Config    domain.RoundConfig `bun:"config,type:jsonb,notnull"`
	UpdatedAt time.Time          `bun:"updated_at,notnull,default:current_timestamp"`
}

type LeaderboardEntryModel struct {
	bun.BaseModel `bun:"table:leaderboard_entries,alias:le"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Scope       string    `bun:"scope,notnull"`
	ScopeID     string    `bun:"scope_id,notnull"`
	PlayerID    string    `bun:"player_id,notnull"`
	DisplayName string    `bun:"display_name,notnull,default:''"`
	MatchID     string    `bun:"match_id,notnull"`
	Score       float64   `bun:"score,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

type MatchResultModel struct {
	bun.BaseModel `bun:"table:match_results,alias:mr"`

	MatchID     string            `bun:"match_id,pk"`
	RoomID      string            `bun:"room_id,notnull"`
	Mode        string            `bun:"mode,notnull"`
	TotalRounds int               `bun:"total_rounds,notnull"`
	Standings   []domain.Standing `bun:"standings,type:jsonb,notnull"`
	StartedAt   time.Time         `bun:"started_at,notnull"`
	FinishedAt  time.Time         `bun:"finished_at,notnull"`
}

func entryModel(e domain.LeaderboardEntry) *LeaderboardEntryModel {
	return &LeaderboardEntryModel{
		Scope:       e.Scope,
		ScopeID:     e.ScopeID,
		PlayerID:    e.PlayerID,
		DisplayName: e.DisplayName,
		MatchID:     e.MatchID,
		Score:       e.Score,
		CreatedAt:   e.CreatedAt,
	}
}

func (m LeaderboardEntryModel) domain() domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Scope:       m.Scope,
		ScopeID:     m.ScopeID,
		PlayerID:    m.PlayerID,
		DisplayName: m.DisplayName,
		MatchID:     m.MatchID,
		Score:       m.Score,
		CreatedAt:   m.CreatedAt,
	}
}
