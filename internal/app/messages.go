package app

import (
	"errors"
	"time"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/match"
)

// MessageType names an outbound envelope.
type MessageType string

const (
	MsgRoomJoined     MessageType = "room.joined"
	MsgRoomUpdated    MessageType = "room.updated"
	MsgRoundStarted   MessageType = "round.started"
	MsgAnswerResult   MessageType = "answer.result"
	MsgRoundSettled   MessageType = "round.settled"
	MsgMatchFinished  MessageType = "match.finished"
	MsgMatchAbandoned MessageType = "match.abandoned"
	MsgChat           MessageType = "chat.message"
	MsgError          MessageType = "error"
)

// Message is what a participant receives. State is the full public match
// state after the change that produced the message.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload any             `json:"payload,omitempty"`
	State   *match.Snapshot `json:"state,omitempty"`
}

// Session identifies a participant explicitly on every call.
type Session struct {
	RoomID      string
	PlayerID    string
	DisplayName string
}

// Subscription is one live connection to a room. Messages is closed when the
// connection is dropped from the room or the room stops.
type Subscription struct {
	Session
	ID       uint64
	Messages <-chan Message
}

type JoinedPayload struct {
	RoomID   string      `json:"roomId"`
	PlayerID string      `json:"playerId"`
	Mode     domain.Mode `json:"mode"`
	Host     string      `json:"host"`
}

type UpdatedPayload struct {
	Host string `json:"host"`
}

type FinishedPayload struct {
	Standings []domain.Standing `json:"standings"`
}

// ChatMessage is broadcast to every participant, sender included, in the
// order the room worker accepted it.
type ChatMessage struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sentAt"`
}

type ErrorPayload struct {
	Code    domain.ValidationCode `json:"code,omitempty"`
	Message string                `json:"message"`
}

// ErrorMessage turns err into an error envelope.
func ErrorMessage(err error) Message {
	payload := ErrorPayload{Message: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		payload = ErrorPayload{Code: ve.Code, Message: ve.Message}
	}
	return Message{Type: MsgError, Payload: payload}
}

// RoomInfo is the listing view of a live room.
type RoomInfo struct {
	RoomID    string        `json:"roomId"`
	Mode      domain.Mode   `json:"mode"`
	Status    domain.Status `json:"status"`
	Players   int           `json:"players"`
	Connected int           `json:"connected"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// StartOptions tune a match at start. Zero values fall back to the resolved
// game config.
type StartOptions struct {
	GameType    string `json:"gameType"`
	Category    string `json:"category"`
	Difficulty  int    `json:"difficulty"`
	TotalRounds int    `json:"totalRounds"`
}
