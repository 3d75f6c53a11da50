// Package match implements the per-match state machine and the single-question
// round controller it drives. A Machine is not safe for concurrent use; its
// owner (a room worker, or a local solo session) serializes every call.
package match

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/scoring"
)

// EventType names a state change worth broadcasting.
type EventType string

const (
	EventRoundStarted   EventType = "round.started"
	EventRoundSettled   EventType = "round.settled"
	EventMatchFinished  EventType = "match.finished"
	EventMatchAbandoned EventType = "match.abandoned"
)

// RoundStarted is the public view of a freshly armed round.
type RoundStarted struct {
	RoundIndex   int                   `json:"roundIndex"`
	TotalRounds  int                   `json:"totalRounds"`
	Question     domain.PublicQuestion `json:"question"`
	TimeLimitSec int                   `json:"timeLimitSec"`
}

// Event is produced by Machine operations, in the order they happened.
type Event struct {
	Type       EventType
	Round      *RoundStarted
	Settlement *domain.RoundSettlement
	Standings  []domain.Standing
}

// StartParams carries what Start needs from the outside world.
type StartParams struct {
	Config    domain.RoundConfig
	Questions []domain.Question
	// TotalRounds overrides the count given at creation when positive.
	TotalRounds int
}

// Option tweaks a Machine at construction.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithRand sets the random source used for shuffling.
func WithRand(rnd *rand.Rand) Option {
	return func(m *Machine) { m.rnd = rnd }
}

// WithMaxPlayers caps group rooms.
func WithMaxPlayers(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxPlayers = n
		}
	}
}

// Machine owns a match's lifecycle: waiting -> in_progress -> finished.
type Machine struct {
	match      domain.Match
	cfg        domain.RoundConfig
	pool       []domain.Question
	used       map[string]bool
	current    *Round
	standings  []domain.Standing
	rnd        *rand.Rand
	now        func() time.Time
	maxPlayers int
}

// New creates a waiting match with an empty roster.
func New(id string, mode domain.Mode, totalRounds int, opts ...Option) *Machine {
	m := &Machine{
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		maxPlayers: 16,
		used:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if totalRounds < 0 {
		totalRounds = 0
	}
	m.match = domain.Match{
		ID:          id,
		Mode:        mode,
		TotalRounds: totalRounds,
		Status:      domain.StatusWaiting,
		Players:     make([]*domain.PlayerState, 0, 2),
		CreatedAt:   m.now(),
	}
	return m
}

// NewSolo creates a waiting solo match seeded with its only player.
func NewSolo(id, playerID, displayName string, totalRounds int, opts ...Option) *Machine {
	m := New(id, domain.ModeSolo, totalRounds, opts...)
	m.addPlayer(playerID, displayName)
	return m
}

func (m *Machine) ID() string                 { return m.match.ID }
func (m *Machine) Mode() domain.Mode          { return m.match.Mode }
func (m *Machine) Status() domain.Status      { return m.match.Status }
func (m *Machine) RoundIndex() int            { return m.match.RoundIndex }
func (m *Machine) TotalRounds() int           { return m.match.TotalRounds }
func (m *Machine) Config() domain.RoundConfig { return m.cfg }
func (m *Machine) CurrentRound() *Round       { return m.current }

// Capacity is the roster limit for the match mode.
func (m *Machine) Capacity() int {
	switch m.match.Mode {
	case domain.ModeSolo:
		return 1
	case domain.ModeDuo:
		return 2
	default:
		return m.maxPlayers
	}
}

// Player returns a copy of the roster entry for playerID.
func (m *Machine) Player(playerID string) (domain.PlayerState, bool) {
	p, ok := m.match.Player(playerID)
	if !ok {
		return domain.PlayerState{}, false
	}
	return *p, true
}

// Players returns copies of the roster in join order.
func (m *Machine) Players() []domain.PlayerState {
	out := make([]domain.PlayerState, 0, len(m.match.Players))
	for _, p := range m.match.Players {
		out = append(out, *p)
	}
	return out
}

// ConnectedCount is the number of roster entries currently connected.
func (m *Machine) ConnectedCount() int {
	n := 0
	for _, p := range m.match.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

// Join appends a player while the match is waiting. Joining again with the
// same id refreshes the display name and marks the player connected.
func (m *Machine) Join(playerID, displayName string) error {
	if m.match.Status != domain.StatusWaiting {
		return domain.Rejectf(domain.CodeNotWaiting, "match %s is %s", m.match.ID, m.match.Status)
	}
	if p, ok := m.match.Player(playerID); ok {
		if displayName != "" {
			p.DisplayName = displayName
		}
		p.Connected = true
		return nil
	}
	if len(m.match.Players) >= m.Capacity() {
		if m.match.Mode == domain.ModeSolo {
			return domain.Rejectf(domain.CodeSoloRoom, "solo match %s accepts no other players", m.match.ID)
		}
		return domain.Rejectf(domain.CodeRoomFull, "match %s is full (%d players)", m.match.ID, m.Capacity())
	}
	m.addPlayer(playerID, displayName)
	return nil
}

func (m *Machine) addPlayer(playerID, displayName string) {
	m.match.Players = append(m.match.Players, &domain.PlayerState{
		PlayerID:          playerID,
		DisplayName:       displayName,
		CurrentDifficulty: domain.MinDifficulty,
		Connected:         true,
		JoinedAt:          m.now(),
	})
}

// Start moves a waiting match with at least one player into its first round.
func (m *Machine) Start(params StartParams) ([]Event, error) {
	if m.match.Status != domain.StatusWaiting {
		return nil, domain.Rejectf(domain.CodeNotWaiting, "match %s is %s", m.match.ID, m.match.Status)
	}
	if len(m.match.Players) == 0 {
		return nil, domain.Rejectf(domain.CodeNoPlayers, "match %s has no players", m.match.ID)
	}

	total := params.TotalRounds
	if total <= 0 {
		total = m.match.TotalRounds
	}
	if total <= 0 {
		total = params.Config.QuestionCount
	}
	if total <= 0 {
		return nil, domain.Rejectf(domain.CodeBadRequest, "match %s needs at least one round", m.match.ID)
	}
	if len(params.Questions) < total {
		return nil, domain.Rejectf(domain.CodeNotEnoughQuestions, "need %d questions, have %d", total, len(params.Questions))
	}

	// The whole match is normalised over the rounds actually played.
	m.cfg = params.Config.WithQuestionCount(total)
	m.pool = m.preparePool(params.Questions)
	m.match.TotalRounds = total
	m.match.RoundIndex = 0
	m.match.Status = domain.StatusInProgress
	m.match.StartedAt = m.now()

	return []Event{m.armRound()}, nil
}

func (m *Machine) preparePool(questions []domain.Question) []domain.Question {
	pool := make([]domain.Question, len(questions))
	for i, q := range questions {
		choices := make([]domain.Choice, len(q.Choices))
		copy(choices, q.Choices)
		if m.cfg.ShuffleChoices {
			m.rnd.Shuffle(len(choices), func(a, b int) { choices[a], choices[b] = choices[b], choices[a] })
		}
		q.Choices = choices
		pool[i] = q
	}
	if m.cfg.RandomQuestionOrder {
		m.rnd.Shuffle(len(pool), func(a, b int) { pool[a], pool[b] = pool[b], pool[a] })
	}
	return pool
}

// nextQuestion serves the pool in order. Solo matches without a fixed
// difficulty prefer an unused question at the player's current tier.
func (m *Machine) nextQuestion() domain.Question {
	if m.match.Mode == domain.ModeSolo && m.cfg.Difficulty == 0 && len(m.match.Players) == 1 {
		want := m.match.Players[0].CurrentDifficulty
		for _, q := range m.pool {
			if !m.used[q.ID] && q.Difficulty == want {
				m.used[q.ID] = true
				return q
			}
		}
	}
	for _, q := range m.pool {
		if !m.used[q.ID] {
			m.used[q.ID] = true
			return q
		}
	}
	// Duplicate ids in the pool: fall back to positional order.
	return m.pool[m.match.RoundIndex%len(m.pool)]
}

func (m *Machine) armRound() Event {
	q := m.nextQuestion()
	ids := make([]string, 0, len(m.match.Players))
	for _, p := range m.match.Players {
		p.AttemptsOnCurrentQuestion = 0
		ids = append(ids, p.PlayerID)
	}
	limit := m.cfg.TimeLimitFor(q)
	m.current = NewRound(m.match.RoundIndex, q, limit, m.cfg.MaxAttemptsPerQuestion, m.cfg.RevealDelaySec, ids)

	// Disconnected players cannot answer; they time out right away.
	for _, p := range m.match.Players {
		if !p.Connected {
			m.current.Forfeit(p.PlayerID)
			m.applyTimeout(p.PlayerID)
		}
	}
	shown := limit
	if !m.cfg.ShowTimer {
		shown = 0
	}
	return Event{Type: EventRoundStarted, Round: &RoundStarted{
		RoundIndex:   m.match.RoundIndex,
		TotalRounds:  m.match.TotalRounds,
		Question:     q.Public(),
		TimeLimitSec: shown,
	}}
}

// SubmitAnswer scores playerID's choice for the current round.
func (m *Machine) SubmitAnswer(playerID, choiceID string) (domain.AnswerOutcome, []Event, error) {
	if m.match.Status != domain.StatusInProgress || m.current == nil {
		return domain.AnswerOutcome{}, nil, domain.Rejectf(domain.CodeNotInProgress, "match %s is %s", m.match.ID, m.match.Status)
	}
	player, ok := m.match.Player(playerID)
	if !ok {
		return domain.AnswerOutcome{}, nil, domain.Rejectf(domain.CodeUnknownPlayer, "player %s is not in match %s", playerID, m.match.ID)
	}

	round := m.current
	att, err := round.Attempt(playerID, choiceID)
	if err != nil {
		return domain.AnswerOutcome{}, nil, err
	}
	player.AttemptsOnCurrentQuestion = att.AttemptsUsed

	q := round.Question()
	out := domain.AnswerOutcome{
		PlayerID:     playerID,
		QuestionID:   q.ID,
		Correct:      att.Correct,
		AttemptsLeft: att.AttemptsLeft,
	}

	switch {
	case att.Correct:
		res := scoring.ScoreForAnswer(true, att.TimeRemaining, round.Limit(), player.Streak, m.cfg)
		penalty := scoring.PenaltyForExtraAttempts(att.AttemptsUsed, m.cfg)
		points := scoring.ApplyPenalty(res.Points, penalty)

		player.Score += points
		player.Streak = res.NewStreak
		if player.Streak > player.BestStreak {
			player.BestStreak = player.Streak
		}
		player.Correct++
		player.TimeBonusTotal += res.TimeBonus
		m.recordDifficulty(player, q)
		player.CurrentDifficulty = scoring.NextDifficulty(player.CurrentDifficulty, true, player.Streak)
		round.RecordPoints(playerID, points)

		out.Outcome = domain.OutcomeCorrect
		out.PointsEarned = points
		out.TimeBonus = res.TimeBonus
		out.Penalty = math.Min(penalty, res.Points)
	case att.Final:
		player.Streak = 0
		player.Wrong++
		m.recordDifficulty(player, q)
		player.CurrentDifficulty = scoring.NextDifficulty(player.CurrentDifficulty, false, 0)
		out.Outcome = domain.OutcomeWrong
	default:
		player.Streak = 0
		out.Outcome = domain.OutcomeRetry
	}
	out.NewScore = player.Score
	out.NewStreak = player.Streak
	if att.Final {
		out.CorrectChoiceID = q.CorrectChoiceID()
	}

	var events []Event
	if att.RoundSettled {
		events = m.onSettled(nil)
	}
	return out, events, nil
}

func (m *Machine) recordDifficulty(p *domain.PlayerState, q domain.Question) {
	d := q.Difficulty
	if d < domain.MinDifficulty || d > domain.MaxDifficulty {
		d = p.CurrentDifficulty
	}
	p.DifficultySum += d
}

// Tick is one step of wall-clock time for the current round: it counts the
// question down, then the reveal window, then advances.
func (m *Machine) Tick() []Event {
	if m.match.Status != domain.StatusInProgress || m.current == nil {
		return nil
	}
	if !m.current.Settled() {
		timedOut, settled := m.current.Tick()
		if !settled {
			return nil
		}
		return m.onSettled(timedOut)
	}
	if m.current.RevealTick() {
		events, _ := m.Advance()
		return events
	}
	return nil
}

// onSettled applies timeout effects and emits the settlement. With no reveal
// window the match advances immediately.
func (m *Machine) onSettled(timedOut []string) []Event {
	for _, id := range timedOut {
		m.applyTimeout(id)
	}
	settlement := m.settlement()
	events := []Event{{Type: EventRoundSettled, Settlement: &settlement}}
	if m.current.RevealDelay() == 0 {
		next, _ := m.Advance()
		events = append(events, next...)
	}
	return events
}

func (m *Machine) applyTimeout(playerID string) {
	p, ok := m.match.Player(playerID)
	if !ok {
		return
	}
	p.Streak = 0
	p.TimedOut++
	m.recordDifficulty(p, m.current.Question())
	p.CurrentDifficulty = scoring.NextDifficulty(p.CurrentDifficulty, false, 0)
}

func (m *Machine) settlement() domain.RoundSettlement {
	s := m.current.Settlement()
	for i := range s.Results {
		if p, ok := m.match.Player(s.Results[i].PlayerID); ok {
			s.Results[i].Score = p.Score
			s.Results[i].Streak = p.Streak
		}
	}
	return s
}

// Advance closes a settled round: the round index moves forward and either the
// next round is armed or the match finishes.
func (m *Machine) Advance() ([]Event, error) {
	if m.match.Status != domain.StatusInProgress || m.current == nil {
		return nil, domain.Rejectf(domain.CodeNotInProgress, "match %s is %s", m.match.ID, m.match.Status)
	}
	if !m.current.Settled() {
		return nil, domain.Rejectf(domain.CodeBadRequest, "round %d is still open", m.match.RoundIndex+1)
	}
	m.match.RoundIndex++
	if m.match.RoundIndex >= m.match.TotalRounds {
		m.match.RoundIndex = m.match.TotalRounds
		return []Event{m.finish()}, nil
	}
	return []Event{m.armRound()}, nil
}

// Next is the manual advance: an open round is settled first, unanswered
// players timing out, then the match advances without waiting for the reveal.
func (m *Machine) Next() ([]Event, error) {
	if m.match.Status != domain.StatusInProgress || m.current == nil {
		return nil, domain.Rejectf(domain.CodeNotInProgress, "match %s is %s", m.match.ID, m.match.Status)
	}
	var events []Event
	if !m.current.Settled() {
		timedOut := m.current.ForceSettle()
		for _, id := range timedOut {
			m.applyTimeout(id)
		}
		settlement := m.settlement()
		events = append(events, Event{Type: EventRoundSettled, Settlement: &settlement})
	}
	next, err := m.Advance()
	if err != nil {
		return events, err
	}
	return append(events, next...), nil
}

func (m *Machine) finish() Event {
	m.match.Status = domain.StatusFinished
	m.match.FinishedAt = m.now()
	m.current = nil
	m.standings = m.computeStandings()
	return Event{Type: EventMatchFinished, Standings: m.Standings()}
}

// Abandon terminates the match early. Nothing is ranked for an abandoned match.
func (m *Machine) Abandon() []Event {
	if m.match.Status.Terminal() {
		return nil
	}
	m.match.Status = domain.StatusAbandoned
	m.match.FinishedAt = m.now()
	m.current = nil
	return []Event{{Type: EventMatchAbandoned}}
}

// Disconnect marks a player as gone. The roster entry stays; an open round
// treats the player as timed out.
func (m *Machine) Disconnect(playerID string) []Event {
	p, ok := m.match.Player(playerID)
	if !ok || !p.Connected {
		return nil
	}
	p.Connected = false
	if m.match.Status != domain.StatusInProgress || m.current == nil || m.current.Settled() {
		return nil
	}
	if st, ok := m.current.SlotState(playerID); !ok || st != SlotArmed {
		return nil
	}
	settled := m.current.Forfeit(playerID)
	m.applyTimeout(playerID)
	if settled {
		return m.onSettled(nil)
	}
	return nil
}

// Leave drops playerID from a waiting roster. Once the match has started the
// entry stays and Leave behaves like Disconnect.
func (m *Machine) Leave(playerID string) []Event {
	if m.match.Status != domain.StatusWaiting {
		return m.Disconnect(playerID)
	}
	for i, p := range m.match.Players {
		if p.PlayerID == playerID {
			m.match.Players = append(m.match.Players[:i:i], m.match.Players[i+1:]...)
			break
		}
	}
	return nil
}

// Host is the first connected player in join order, or the first player when
// nobody is connected.
func (m *Machine) Host() string {
	for _, p := range m.match.Players {
		if p.Connected {
			return p.PlayerID
		}
	}
	if len(m.match.Players) > 0 {
		return m.match.Players[0].PlayerID
	}
	return ""
}

// Reconnect marks a roster member as connected again.
func (m *Machine) Reconnect(playerID string) bool {
	p, ok := m.match.Player(playerID)
	if !ok {
		return false
	}
	p.Connected = true
	return true
}

// Standings ranks players by score, ties kept in join order. Before the match
// finishes it reflects the live scores.
func (m *Machine) Standings() []domain.Standing {
	src := m.standings
	if m.match.Status != domain.StatusFinished {
		src = m.computeStandings()
	}
	out := make([]domain.Standing, len(src))
	copy(out, src)
	return out
}

func (m *Machine) computeStandings() []domain.Standing {
	players := make([]*domain.PlayerState, len(m.match.Players))
	copy(players, m.match.Players)
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Score > players[j].Score
	})

	out := make([]domain.Standing, 0, len(players))
	for i, p := range players {
		xp := scoring.XPFromScore(p.Score, averageDifficulty(p), p.TimeBonusTotal)
		out = append(out, domain.Standing{
			Rank:          i + 1,
			PlayerID:      p.PlayerID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			BestStreak:    p.BestStreak,
			XP:            xp,
			Level:         scoring.LevelFromXP(xp),
			LevelProgress: scoring.LevelProgressPercent(xp),
		})
	}
	return out
}

func averageDifficulty(p *domain.PlayerState) int {
	played := p.Correct + p.Wrong + p.TimedOut
	if played == 0 || p.DifficultySum == 0 {
		return domain.MinDifficulty
	}
	return int(math.Round(float64(p.DifficultySum) / float64(played)))
}

// Result summarises a finished match for the persistence sink.
func (m *Machine) Result(roomID string) domain.MatchResult {
	return domain.MatchResult{
		MatchID:     m.match.ID,
		RoomID:      roomID,
		Mode:        m.match.Mode,
		TotalRounds: m.match.TotalRounds,
		Standings:   m.Standings(),
		StartedAt:   m.match.StartedAt,
		FinishedAt:  m.match.FinishedAt,
	}
}
