package match

import "quiz-match-service/internal/domain"

// RoundView is the public part of the current round.
type RoundView struct {
	Index        int                   `json:"index"`
	Question     domain.PublicQuestion `json:"question"`
	Phase        Phase                 `json:"phase"`
	TimeLimitSec int                   `json:"timeLimitSec,omitempty"`
	// TimeRemaining is omitted when the timer is hidden or the round is untimed.
	TimeRemaining *int     `json:"timeRemaining,omitempty"`
	Answered      []string `json:"answered"`
	// CorrectChoiceID is only revealed once the round has settled.
	CorrectChoiceID string `json:"correctChoiceId,omitempty"`
}

// Snapshot is the full public state of a match. It never carries the correct
// answer of an open round.
type Snapshot struct {
	MatchID     string               `json:"matchId"`
	Mode        domain.Mode          `json:"mode"`
	Status      domain.Status        `json:"status"`
	RoundIndex  int                  `json:"roundIndex"`
	TotalRounds int                  `json:"totalRounds"`
	Players     []domain.PlayerState `json:"players"`
	Round       *RoundView           `json:"round,omitempty"`
	Standings   []domain.Standing    `json:"standings,omitempty"`
}

// Snapshot builds the public state.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		MatchID:     m.match.ID,
		Mode:        m.match.Mode,
		Status:      m.match.Status,
		RoundIndex:  m.match.RoundIndex,
		TotalRounds: m.match.TotalRounds,
		Players:     m.Players(),
	}
	if m.match.Status == domain.StatusFinished {
		snap.Standings = m.Standings()
	}
	r := m.current
	if r == nil {
		return snap
	}
	view := &RoundView{
		Index:    r.Index(),
		Question: r.Question().Public(),
		Phase:    r.Phase(),
		Answered: r.Answered(),
	}
	if m.cfg.ShowTimer && r.Limit() > 0 {
		view.TimeLimitSec = r.Limit()
		remaining := r.Remaining()
		view.TimeRemaining = &remaining
	}
	if r.Settled() {
		view.CorrectChoiceID = r.Question().CorrectChoiceID()
	}
	snap.Round = view
	return snap
}
