package domain

import "time"

// Mode selects how many players a match accepts.
type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeDuo   Mode = "duo"
	ModeGroup Mode = "group"
)

// ParseMode maps client input onto a Mode, defaulting to group.
func ParseMode(raw string) Mode {
	switch Mode(raw) {
	case ModeSolo:
		return ModeSolo
	case ModeDuo:
		return ModeDuo
	default:
		return ModeGroup
	}
}

// Status is the lifecycle state of a match.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAbandoned
}

// ScoringMode picks how a correct answer is valued.
type ScoringMode string

const (
	// ScoringEvaluation normalises the whole match to 10 points.
	ScoringEvaluation ScoringMode = "evaluation"
	// ScoringPractice awards flat base points plus time and streak bonuses.
	ScoringPractice ScoringMode = "practice"
)

// Difficulty bounds for adaptive play.
const (
	MinDifficulty = 1
	MaxDifficulty = 3
)

// PlayerState is a participant's standing inside one match.
type PlayerState struct {
	PlayerID                  string    `json:"playerId"`
	DisplayName               string    `json:"displayName"`
	Score                     float64   `json:"score"`
	Streak                    int       `json:"streak"`
	BestStreak                int       `json:"bestStreak"`
	CurrentDifficulty         int       `json:"currentDifficulty"`
	AttemptsOnCurrentQuestion int       `json:"attemptsOnCurrentQuestion"`
	Correct                   int       `json:"correct"`
	Wrong                     int       `json:"wrong"`
	TimedOut                  int       `json:"timedOut"`
	TimeBonusTotal            int       `json:"timeBonusTotal"`
	DifficultySum             int       `json:"-"`
	Connected                 bool      `json:"connected"`
	JoinedAt                  time.Time `json:"joinedAt"`
}

// Match is the authoritative record of one played session.
type Match struct {
	ID          string         `json:"id"`
	Mode        Mode           `json:"mode"`
	RoundIndex  int            `json:"roundIndex"`
	TotalRounds int            `json:"totalRounds"`
	Status      Status         `json:"status"`
	Players     []*PlayerState `json:"players"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   time.Time      `json:"startedAt,omitempty"`
	FinishedAt  time.Time      `json:"finishedAt,omitempty"`
}

// Player returns the roster entry for playerID.
func (m *Match) Player(playerID string) (*PlayerState, bool) {
	for _, p := range m.Players {
		if p.PlayerID == playerID {
			return p, true
		}
	}
	return nil, false
}

// RoundConfig is the rule set resolved once per match.
type RoundConfig struct {
	GameType               string      `json:"gameType" yaml:"game_type"`
	TimePerQuestionSec     *int        `json:"timePerQuestionSec" yaml:"time_per_question_sec"`
	QuestionCount          int         `json:"questionCount" yaml:"question_count"`
	MaxAttemptsPerQuestion int         `json:"maxAttemptsPerQuestion" yaml:"max_attempts_per_question"`
	PenaltyEnabled         bool        `json:"penaltyEnabled" yaml:"penalty_enabled"`
	ScoringMode            ScoringMode `json:"scoringMode" yaml:"scoring_mode"`
	ShuffleChoices         bool        `json:"shuffleChoices" yaml:"shuffle_choices"`
	RandomQuestionOrder    bool        `json:"randomQuestionOrder" yaml:"random_question_order"`
	ShowTimer              bool        `json:"showTimer" yaml:"show_timer"`
	RevealDelaySec         int         `json:"revealDelaySec" yaml:"reveal_delay_sec"`
	BasePoints             float64     `json:"basePoints" yaml:"base_points"`
	TimeBonusCap           int         `json:"timeBonusCap" yaml:"time_bonus_cap"`
	StreakUnit             int         `json:"streakUnit" yaml:"streak_unit"`
	UseQuestionTimeLimit   bool        `json:"useQuestionTimeLimit" yaml:"use_question_time_limit"`
	Category               string      `json:"category" yaml:"category"`
	Difficulty             int         `json:"difficulty" yaml:"difficulty"`
}

// PointsPerQuestion spreads a total of 10 points over QuestionCount questions.
func (c RoundConfig) PointsPerQuestion() float64 {
	if c.QuestionCount <= 0 {
		return 0
	}
	return 10 / float64(c.QuestionCount)
}

// PenaltyPerError is a quarter of a question's worth when penalties are on.
func (c RoundConfig) PenaltyPerError() float64 {
	if !c.PenaltyEnabled {
		return 0
	}
	return c.PointsPerQuestion() * 0.25
}

// Timed reports whether questions run against a countdown.
func (c RoundConfig) Timed() bool {
	return c.TimePerQuestionSec != nil && *c.TimePerQuestionSec > 0
}

// TimeLimitFor returns the countdown for q in seconds, 0 when untimed.
func (c RoundConfig) TimeLimitFor(q Question) int {
	if c.UseQuestionTimeLimit && q.TimeLimitSec > 0 {
		return q.TimeLimitSec
	}
	if !c.Timed() {
		return 0
	}
	return *c.TimePerQuestionSec
}

// WithQuestionCount returns a copy sized for n rounds.
func (c RoundConfig) WithQuestionCount(n int) RoundConfig {
	if n > 0 {
		c.QuestionCount = n
	}
	return c
}

// Seconds is a helper for building optional time limits.
func Seconds(n int) *int {
	return &n
}

// Choice is one answer option of a question.
type Choice struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is supplied by the question store and never mutated.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Choices      []Choice `json:"choices"`
	Category     string   `json:"category"`
	Difficulty   int      `json:"difficulty"`
	TimeLimitSec int      `json:"timeLimitSec"`
}

// CorrectChoiceID returns the id of the first choice flagged correct.
func (q Question) CorrectChoiceID() string {
	for _, c := range q.Choices {
		if c.Correct {
			return c.ID
		}
	}
	return ""
}

// HasChoice reports whether choiceID belongs to q.
func (q Question) HasChoice(choiceID string) bool {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

// Public strips the correct-answer markers.
func (q Question) Public() PublicQuestion {
	choices := make([]PublicChoice, 0, len(q.Choices))
	for _, c := range q.Choices {
		choices = append(choices, PublicChoice{ID: c.ID, Text: c.Text})
	}
	return PublicQuestion{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Choices:    choices,
		Category:   q.Category,
		Difficulty: q.Difficulty,
	}
}

// PublicChoice is a choice as shown to players.
type PublicChoice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is a question without its answer.
type PublicQuestion struct {
	ID         string         `json:"id"`
	Prompt     string         `json:"prompt"`
	Choices    []PublicChoice `json:"choices"`
	Category   string         `json:"category,omitempty"`
	Difficulty int            `json:"difficulty,omitempty"`
}

// QuestionFilter narrows a question store lookup. Zero values match everything.
type QuestionFilter struct {
	Category   string `json:"category"`
	Difficulty int    `json:"difficulty"`
	Limit      int    `json:"limit"`
}

// Outcome classifies a player's result for one round.
type Outcome string

const (
	OutcomeCorrect  Outcome = "correct"
	OutcomeWrong    Outcome = "wrong"
	OutcomeRetry    Outcome = "retry"
	OutcomeTimedOut Outcome = "timed_out"
)

// AnswerOutcome is reported back to the player who submitted an answer.
type AnswerOutcome struct {
	PlayerID     string  `json:"playerId"`
	QuestionID   string  `json:"questionId"`
	Outcome      Outcome `json:"outcome"`
	Correct      bool    `json:"correct"`
	PointsEarned float64 `json:"pointsEarned"`
	TimeBonus    int     `json:"timeBonus"`
	Penalty      float64 `json:"penalty"`
	NewScore     float64 `json:"newScore"`
	NewStreak    int     `json:"newStreak"`
	AttemptsLeft int     `json:"attemptsLeft"`
	// CorrectChoiceID is only filled once the player's slot is settled.
	CorrectChoiceID string `json:"correctChoiceId,omitempty"`
}

// PlayerRoundResult is one row of a round settlement.
type PlayerRoundResult struct {
	PlayerID     string  `json:"playerId"`
	Outcome      Outcome `json:"outcome"`
	PointsEarned float64 `json:"pointsEarned"`
	Score        float64 `json:"score"`
	Streak       int     `json:"streak"`
}

// RoundSettlement is revealed when a round settles.
type RoundSettlement struct {
	RoundIndex      int                 `json:"roundIndex"`
	QuestionID      string              `json:"questionId"`
	CorrectChoiceID string              `json:"correctChoiceId"`
	TimedOut        bool                `json:"timedOut"`
	Results         []PlayerRoundResult `json:"results"`
}

// Standing is one row of the final ranking of a match.
type Standing struct {
	Rank          int     `json:"rank"`
	PlayerID      string  `json:"playerId"`
	DisplayName   string  `json:"displayName"`
	Score         float64 `json:"score"`
	BestStreak    int     `json:"bestStreak"`
	XP            int     `json:"xp"`
	Level         int     `json:"level"`
	LevelProgress int     `json:"levelProgress"`
}

// MatchResult is handed to the persistence sink once a match finishes.
type MatchResult struct {
	MatchID     string     `json:"matchId"`
	RoomID      string     `json:"roomId"`
	Mode        Mode       `json:"mode"`
	TotalRounds int        `json:"totalRounds"`
	Standings   []Standing `json:"standings"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  time.Time  `json:"finishedAt"`
}

// Leaderboard scopes.
const (
	ScopeOverall  = "overall"
	ScopeIDGlobal = "global"
	ScopeCategory = "category"
	ScopePractice = "practice"
)

// LeaderboardEntry is one append-only ranking event.
type LeaderboardEntry struct {
	Scope       string    `json:"scope"`
	ScopeID     string    `json:"scopeId"`
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName"`
	MatchID     string    `json:"matchId"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RankedEntry is a LeaderboardEntry with its derived position.
type RankedEntry struct {
	Rank int `json:"rank"`
	LeaderboardEntry
}
