package match

import "quiz-match-service/internal/domain"

// Phase is the round-level state.
type Phase string

const (
	PhaseArmed   Phase = "armed"
	PhaseSettled Phase = "settled"
)

// SlotState tracks one player's progress through a round.
type SlotState string

const (
	SlotArmed    SlotState = "armed"
	SlotAnswered SlotState = "answered"
	SlotTimedOut SlotState = "timed_out"
)

type slot struct {
	state    SlotState
	attempts int
	outcome  domain.Outcome
	points   float64
}

// Attempt is the controller's verdict on one submission.
type Attempt struct {
	Correct       bool
	AttemptsUsed  int
	AttemptsLeft  int
	Final         bool
	TimeRemaining int
	RoundSettled  bool
}

// Round is the controller for a single question. It owns the countdown and
// decides when the round settles. Not safe for concurrent use: the owning
// match worker serializes every call.
type Round struct {
	index       int
	question    domain.Question
	limit       int
	remaining   int
	revealDelay int
	reveal      int
	maxAttempts int
	phase       Phase
	timedOut    bool

	slots map[string]*slot
	order []string
}

// NewRound arms a round for players. limit is the countdown in ticks, 0 for
// an untimed question.
func NewRound(index int, q domain.Question, limit, maxAttempts, revealDelay int, players []string) *Round {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if limit < 0 {
		limit = 0
	}
	if revealDelay < 0 {
		revealDelay = 0
	}
	r := &Round{
		index:       index,
		question:    q,
		limit:       limit,
		remaining:   limit,
		revealDelay: revealDelay,
		reveal:      revealDelay,
		maxAttempts: maxAttempts,
		phase:       PhaseArmed,
		slots:       make(map[string]*slot, len(players)),
		order:       make([]string, 0, len(players)),
	}
	for _, id := range players {
		r.slots[id] = &slot{state: SlotArmed}
		r.order = append(r.order, id)
	}
	return r
}

func (r *Round) Index() int                { return r.index }
func (r *Round) Question() domain.Question { return r.question }
func (r *Round) Phase() Phase              { return r.phase }
func (r *Round) Settled() bool             { return r.phase == PhaseSettled }
func (r *Round) Limit() int                { return r.limit }
func (r *Round) Remaining() int            { return r.remaining }
func (r *Round) RevealDelay() int          { return r.revealDelay }
func (r *Round) TimedOut() bool            { return r.timedOut }

// SlotState returns the state of playerID's slot.
func (r *Round) SlotState(playerID string) (SlotState, bool) {
	s, ok := r.slots[playerID]
	if !ok {
		return "", false
	}
	return s.state, true
}

// Answered lists players whose slot is no longer armed, in roster order.
func (r *Round) Answered() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.slots[id].state != SlotArmed {
			out = append(out, id)
		}
	}
	return out
}

// Attempt validates and records a choice. Rejections leave the round untouched.
func (r *Round) Attempt(playerID, choiceID string) (Attempt, error) {
	if r.phase == PhaseSettled {
		return Attempt{}, domain.Rejectf(domain.CodeRoundSettled, "round %d already settled", r.index+1)
	}
	s, ok := r.slots[playerID]
	if !ok {
		return Attempt{}, domain.Rejectf(domain.CodeUnknownPlayer, "player %s is not part of this round", playerID)
	}
	if s.state != SlotArmed {
		return Attempt{}, domain.Rejectf(domain.CodeAlreadyAnswered, "player %s already answered round %d", playerID, r.index+1)
	}
	if !r.question.HasChoice(choiceID) {
		return Attempt{}, domain.Rejectf(domain.CodeInvalidChoice, "choice %q does not belong to question %s", choiceID, r.question.ID)
	}

	s.attempts++
	att := Attempt{
		Correct:       choiceID == r.question.CorrectChoiceID(),
		AttemptsUsed:  s.attempts,
		AttemptsLeft:  r.maxAttempts - s.attempts,
		TimeRemaining: r.remaining,
	}
	switch {
	case att.Correct:
		s.state = SlotAnswered
		s.outcome = domain.OutcomeCorrect
		att.Final = true
	case s.attempts >= r.maxAttempts:
		s.state = SlotAnswered
		s.outcome = domain.OutcomeWrong
		att.Final = true
	default:
		s.outcome = domain.OutcomeRetry
	}
	if att.AttemptsLeft < 0 || att.Final {
		att.AttemptsLeft = 0
	}
	if att.Final && r.allDone() {
		r.settle(false)
		att.RoundSettled = true
	}
	return att, nil
}

// RecordPoints stores what playerID earned this round for the settlement view.
func (r *Round) RecordPoints(playerID string, points float64) {
	if s, ok := r.slots[playerID]; ok {
		s.points = points
	}
}

// Tick advances the countdown by one step. It returns the players that timed
// out when this tick settled the round. Untimed rounds never settle here.
func (r *Round) Tick() (timedOut []string, settled bool) {
	if r.phase != PhaseArmed || r.limit == 0 {
		return nil, false
	}
	r.remaining--
	if r.remaining > 0 {
		return nil, false
	}
	r.remaining = 0
	return r.expire(), true
}

// RevealTick counts down the reveal window and reports when it is over.
func (r *Round) RevealTick() bool {
	if r.phase != PhaseSettled {
		return false
	}
	if r.reveal > 0 {
		r.reveal--
	}
	return r.reveal == 0
}

// ForceSettle settles an armed round immediately; armed players time out.
func (r *Round) ForceSettle() []string {
	if r.phase != PhaseArmed {
		return nil
	}
	return r.expire()
}

// Forfeit times out a single player's slot, as on disconnect. It
// reports whether that settled the round.
func (r *Round) Forfeit(playerID string) bool {
	if r.phase != PhaseArmed {
		return false
	}
	s, ok := r.slots[playerID]
	if !ok || s.state != SlotArmed {
		return false
	}
	s.state = SlotTimedOut
	s.outcome = domain.OutcomeTimedOut
	if r.allDone() {
		r.settle(true)
		return true
	}
	return false
}

// Settlement describes the round outcome for every player in roster order.
func (r *Round) Settlement() domain.RoundSettlement {
	out := domain.RoundSettlement{
		RoundIndex:      r.index,
		QuestionID:      r.question.ID,
		CorrectChoiceID: r.question.CorrectChoiceID(),
		TimedOut:        r.timedOut,
		Results:         make([]domain.PlayerRoundResult, 0, len(r.order)),
	}
	for _, id := range r.order {
		s := r.slots[id]
		outcome := s.outcome
		if outcome == "" || outcome == domain.OutcomeRetry {
			outcome = domain.OutcomeTimedOut
		}
		out.Results = append(out.Results, domain.PlayerRoundResult{
			PlayerID:     id,
			Outcome:      outcome,
			PointsEarned: s.points,
		})
	}
	return out
}

func (r *Round) expire() []string {
	var timedOut []string
	for _, id := range r.order {
		s := r.slots[id]
		if s.state == SlotArmed {
			s.state = SlotTimedOut
			s.outcome = domain.OutcomeTimedOut
			timedOut = append(timedOut, id)
		}
	}
	r.settle(len(timedOut) > 0)
	return timedOut
}

func (r *Round) settle(timedOut bool) {
	r.phase = PhaseSettled
	r.timedOut = r.timedOut || timedOut
	r.reveal = r.revealDelay
}

func (r *Round) allDone() bool {
	for _, s := range r.slots {
		if s.state == SlotArmed {
			return false
		}
	}
	return true
}
