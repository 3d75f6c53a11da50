package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/match"
)

// Matches is the slice of the coordinator the transport drives.
type Matches interface {
	Join(ctx context.Context, s app.Session, mode domain.Mode) (*app.Subscription, error)
	CreateSolo(ctx context.Context, playerID, displayName string) (*app.Subscription, error)
	Start(ctx context.Context, s app.Session, opts app.StartOptions) error
	SubmitAnswer(ctx context.Context, s app.Session, questionID, choiceID string) (domain.AnswerOutcome, error)
	Next(ctx context.Context, s app.Session) error
	Chat(ctx context.Context, s app.Session, text string) error
	Abandon(ctx context.Context, s app.Session) error
	Leave(ctx context.Context, sub *app.Subscription)
	Snapshot(ctx context.Context, roomID string) (match.Snapshot, error)
	Rooms(ctx context.Context) ([]app.RoomInfo, error)
}

// Inbound message types.
const (
	inRoomStart   = "room.start"
	inAnswer      = "answer.submit"
	inRoundNext   = "round.next"
	inChat        = "chat.send"
	inRoomLeave   = "room.leave"
	inRoomAbandon = "room.abandon"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
)

type WSHandler struct {
	matches  Matches
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(matches Matches, checkOrigin func(r *http.Request) bool, log logrus.FieldLogger) *WSHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSHandler{
		matches: matches,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log.WithField("component", "ws"),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	ChoiceID   string `json:"choiceId"`
}

type chatPayload struct {
	Text string `json:"text"`
}

// ServeWS upgrades the request and binds the connection to one room
// subscription. Query: roomId, playerId, name, mode (solo|duo|group).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("roomId")
	playerID := q.Get("playerId")
	displayName := q.Get("name")
	mode := domain.ParseMode(q.Get("mode"))
	if playerID == "" || (roomID == "" && mode != domain.ModeSolo) {
		http.Error(w, "missing roomId or playerId", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = playerID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	ctx := r.Context()
	var sub *app.Subscription
	if mode == domain.ModeSolo {
		sub, err = h.matches.CreateSolo(ctx, playerID, displayName)
	} else {
		sub, err = h.matches.Join(ctx, app.Session{RoomID: roomID, PlayerID: playerID, DisplayName: displayName}, mode)
	}
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(app.ErrorMessage(err))
		return
	}
	defer h.matches.Leave(context.Background(), sub)

	log := h.log.WithFields(logrus.Fields{"room": sub.RoomID, "player": sub.PlayerID})
	session := sub.Session

	send := make(chan app.Message, sendBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})

	// Single writer: gorilla connections allow one concurrent writer.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(forwardDone)
		for {
			select {
			case msg, ok := <-sub.Messages:
				if !ok {
					// Dropped by the room; unblock the reader.
					_ = conn.Close()
					return
				}
				select {
				case send <- msg:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg app.Message) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type == inRoomLeave {
			break
		}
		if err := h.dispatch(ctx, session, inbound); err != nil {
			if !domain.IsValidation(err) {
				log.WithError(err).WithField("type", inbound.Type).Warn("ws command failed")
			}
			reply(app.ErrorMessage(err))
		}
	}

	close(closeSignals)
	<-forwardDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, s app.Session, in inboundMessage) error {
	switch in.Type {
	case inRoomStart:
		var opts app.StartOptions
		if err := decodePayload(in.Payload, &opts); err != nil {
			return err
		}
		return h.matches.Start(ctx, s, opts)
	case inAnswer:
		var p answerPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		// The outcome reaches the player through the subscription.
		_, err := h.matches.SubmitAnswer(ctx, s, p.QuestionID, p.ChoiceID)
		return err
	case inRoundNext:
		return h.matches.Next(ctx, s)
	case inChat:
		var p chatPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.matches.Chat(ctx, s, p.Text)
	case inRoomAbandon:
		return h.matches.Abandon(ctx, s)
	default:
		return domain.Rejectf(domain.CodeBadRequest, "unsupported message type %q", in.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.Rejectf(domain.CodeBadRequest, "invalid payload")
	}
	return nil
}
