package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/leaderboard"
	"quiz-match-service/internal/match"
)

const (
	maxChatRunes     = 500
	subscriberBuffer = 64
)

// roomObserver receives side effects the worker must not perform itself.
type roomObserver interface {
	roomChanged(info RoomInfo)
	roomClosed(r *Room)
	matchStarted(mode domain.Mode)
	answerAccepted(outcome domain.Outcome)
	chatSent()
	matchFinished(result domain.MatchResult, scopes []leaderboard.Scope)
	matchAbandoned(mode domain.Mode)
}

type roomConfig struct {
	Tick      time.Duration
	ChatRate  rate.Limit
	ChatBurst int
	Now       func() time.Time
}

type subscriber struct {
	id uint64
	ch chan Message
}

// Inbox commands. Every reply channel is buffered so the worker never blocks.
type (
	joinCmd struct {
		playerID, name string
		reply          chan joinReply
	}
	joinReply struct {
		sub *Subscription
		err error
	}
	startCmd struct {
		playerID string
		params   match.StartParams
		scopes   []leaderboard.Scope
		reply    chan error
	}
	answerCmd struct {
		playerID, questionID, choiceID string
		reply                          chan answerReply
	}
	answerReply struct {
		outcome domain.AnswerOutcome
		err     error
	}
	nextCmd struct {
		playerID string
		reply    chan error
	}
	chatCmd struct {
		playerID, text string
		reply          chan error
	}
	leaveCmd struct {
		playerID string
		subID    uint64
		reply    chan struct{}
	}
	abandonCmd struct {
		playerID string
		reply    chan error
	}
	snapshotCmd struct {
		reply chan match.Snapshot
	}
)

// Room is the single writer for one match. Every mutation arrives through the
// inbox and is applied by Run, in arrival order.
type Room struct {
	ID string

	inbox chan any
	quit  chan struct{}
	done  chan struct{}

	cfg      roomConfig
	machine  *match.Machine
	subs     map[string]*subscriber
	nextSub  uint64
	limiters map[string]*rate.Limiter
	chatSeq  uint64
	scopes   []leaderboard.Scope
	closing  bool
	ticker   *time.Ticker

	obs roomObserver
	log logrus.FieldLogger
}

func newRoom(id string, m *match.Machine, cfg roomConfig, obs roomObserver, log logrus.FieldLogger) *Room {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ChatRate <= 0 {
		cfg.ChatRate = rate.Inf
	}
	if cfg.ChatBurst <= 0 {
		cfg.ChatBurst = 1
	}
	return &Room{
		ID:       id,
		inbox:    make(chan any, 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		cfg:      cfg,
		machine:  m,
		subs:     make(map[string]*subscriber),
		limiters: make(map[string]*rate.Limiter),
		obs:      obs,
		log:      log.WithFields(logrus.Fields{"room": id, "match": m.ID()}),
	}
}

// Run owns the match until the room empties, the match is over with nobody
// left, Stop is called or ctx ends.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)
	defer r.dropSubscribers()
	defer r.obs.roomClosed(r)

	r.ticker = time.NewTicker(r.cfg.Tick)
	defer r.ticker.Stop()

	r.changed()
	for !r.closing {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case cmd := <-r.inbox:
			r.handle(cmd)
		case <-r.ticker.C:
			r.apply(r.machine.Tick())
		}
	}
	r.log.Debug("room worker stopped")
}

// Stop ends the worker without touching the match.
func (r *Room) Stop() {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
}

// Done is closed once the worker has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) Join(ctx context.Context, playerID, name string) (*Subscription, error) {
	reply := make(chan joinReply, 1)
	res, err := call(ctx, r, joinCmd{playerID: playerID, name: name, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	return res.sub, res.err
}

func (r *Room) Start(ctx context.Context, playerID string, params match.StartParams, scopes []leaderboard.Scope) error {
	reply := make(chan error, 1)
	res, err := call(ctx, r, startCmd{playerID: playerID, params: params, scopes: scopes, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

func (r *Room) Submit(ctx context.Context, playerID, questionID, choiceID string) (domain.AnswerOutcome, error) {
	reply := make(chan answerReply, 1)
	res, err := call(ctx, r, answerCmd{playerID: playerID, questionID: questionID, choiceID: choiceID, reply: reply}, reply)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	return res.outcome, res.err
}

func (r *Room) Next(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	res, err := call(ctx, r, nextCmd{playerID: playerID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

func (r *Room) Chat(ctx context.Context, playerID, text string) error {
	reply := make(chan error, 1)
	res, err := call(ctx, r, chatCmd{playerID: playerID, text: text, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Leave detaches subscription subID of playerID. A stale subscription id, left
// behind by a reconnect, is ignored.
func (r *Room) Leave(ctx context.Context, playerID string, subID uint64) error {
	reply := make(chan struct{}, 1)
	_, err := call(ctx, r, leaveCmd{playerID: playerID, subID: subID, reply: reply}, reply)
	return err
}

func (r *Room) Abandon(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	res, err := call(ctx, r, abandonCmd{playerID: playerID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

func (r *Room) Snapshot(ctx context.Context) (match.Snapshot, error) {
	reply := make(chan match.Snapshot, 1)
	return call(ctx, r, snapshotCmd{reply: reply}, reply)
}

// call hands cmd to the worker and waits for its reply.
func call[T any](ctx context.Context, r *Room, cmd any, reply <-chan T) (T, error) {
	var zero T
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return zero, domain.ErrRoomClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		// The worker may have replied right before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, domain.ErrRoomClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (r *Room) handle(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		r.handleJoin(c)
	case startCmd:
		c.reply <- r.handleStart(c)
	case answerCmd:
		out, err := r.handleAnswer(c)
		c.reply <- answerReply{outcome: out, err: err}
	case nextCmd:
		c.reply <- r.handleNext(c)
	case chatCmd:
		c.reply <- r.handleChat(c)
	case leaveCmd:
		r.handleLeave(c)
		c.reply <- struct{}{}
	case abandonCmd:
		c.reply <- r.handleAbandon(c)
	case snapshotCmd:
		c.reply <- r.machine.Snapshot()
	default:
		r.log.Warnf("unknown room command %T", cmd)
	}
}

func (r *Room) handleJoin(c joinCmd) {
	_, known := r.machine.Player(c.playerID)
	var err error
	switch {
	case r.machine.Status() == domain.StatusWaiting:
		err = r.machine.Join(c.playerID, c.name)
	case known:
		r.machine.Reconnect(c.playerID)
	default:
		err = domain.Rejectf(domain.CodeNotWaiting, "match in room %s is %s", r.ID, r.machine.Status())
	}
	if err != nil {
		c.reply <- joinReply{err: err}
		return
	}

	name := c.name
	if p, ok := r.machine.Player(c.playerID); ok {
		name = p.DisplayName
	}
	sub := r.subscribe(c.playerID, name)
	snap := r.machine.Snapshot()
	r.deliver(c.playerID, Message{
		Type: MsgRoomJoined,
		Payload: JoinedPayload{
			RoomID:   r.ID,
			PlayerID: c.playerID,
			Mode:     r.machine.Mode(),
			Host:     r.machine.Host(),
		},
		State: &snap,
	})
	r.broadcastExcept(c.playerID, Message{Type: MsgRoomUpdated, Payload: UpdatedPayload{Host: r.machine.Host()}, State: &snap})
	r.log.WithField("player", c.playerID).Info("player joined")
	r.changed()
	c.reply <- joinReply{sub: sub}
}

func (r *Room) handleStart(c startCmd) error {
	if err := r.requireHost(c.playerID); err != nil {
		return err
	}
	events, err := r.machine.Start(c.params)
	if err != nil {
		return err
	}
	r.scopes = c.scopes
	r.log.WithFields(logrus.Fields{
		"rounds":       r.machine.TotalRounds(),
		"scoring_mode": r.machine.Config().ScoringMode,
	}).Info("match started")
	r.obs.matchStarted(r.machine.Mode())
	r.apply(events)
	return nil
}

func (r *Room) handleAnswer(c answerCmd) (domain.AnswerOutcome, error) {
	if cur := r.machine.CurrentRound(); cur != nil && c.questionID != "" && cur.Question().ID != c.questionID {
		return domain.AnswerOutcome{}, domain.Rejectf(domain.CodeRoundSettled, "question %s is no longer open", c.questionID)
	}
	out, events, err := r.machine.SubmitAnswer(c.playerID, c.choiceID)
	if err != nil {
		return out, err
	}
	r.obs.answerAccepted(out.Outcome)

	snap := r.machine.Snapshot()
	r.deliver(c.playerID, Message{Type: MsgAnswerResult, Payload: out, State: &snap})
	if len(events) == 0 {
		// Others see who has answered, never what.
		r.broadcastExcept(c.playerID, Message{Type: MsgRoomUpdated, Payload: UpdatedPayload{Host: r.machine.Host()}, State: &snap})
	}
	r.apply(events)
	return out, nil
}

func (r *Room) handleNext(c nextCmd) error {
	if err := r.requireHost(c.playerID); err != nil {
		return err
	}
	events, err := r.machine.Next()
	r.apply(events)
	return err
}

func (r *Room) handleChat(c chatCmd) error {
	p, ok := r.machine.Player(c.playerID)
	if !ok {
		return domain.Rejectf(domain.CodeUnknownPlayer, "player %s is not in room %s", c.playerID, r.ID)
	}
	text := strings.TrimSpace(c.text)
	if text == "" {
		return domain.Rejectf(domain.CodeChatInvalid, "message is empty")
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		return domain.Rejectf(domain.CodeChatInvalid, "message exceeds %d characters", maxChatRunes)
	}
	if !r.limiter(c.playerID).AllowN(r.cfg.Now(), 1) {
		return domain.Rejectf(domain.CodeChatRateLimited, "slow down")
	}

	r.chatSeq++
	r.broadcast(Message{Type: MsgChat, Payload: ChatMessage{
		ID:          uuid.NewString(),
		Seq:         r.chatSeq,
		PlayerID:    p.PlayerID,
		DisplayName: p.DisplayName,
		Text:        text,
		SentAt:      r.cfg.Now(),
	}})
	r.obs.chatSent()
	return nil
}

func (r *Room) handleLeave(c leaveCmd) {
	s, ok := r.subs[c.playerID]
	if !ok || (c.subID != 0 && s.id != c.subID) {
		return
	}
	delete(r.subs, c.playerID)
	close(s.ch)
	delete(r.limiters, c.playerID)

	r.apply(r.machine.Leave(c.playerID))
	r.log.WithField("player", c.playerID).Info("player left")

	if len(r.subs) > 0 {
		snap := r.machine.Snapshot()
		r.broadcast(Message{Type: MsgRoomUpdated, Payload: UpdatedPayload{Host: r.machine.Host()}, State: &snap})
		r.changed()
		return
	}
	if r.machine.Status() == domain.StatusInProgress {
		r.log.Info("every player disconnected, abandoning match")
		r.apply(r.machine.Abandon())
	}
	r.closing = true
}

func (r *Room) handleAbandon(c abandonCmd) error {
	if err := r.requireHost(c.playerID); err != nil {
		return err
	}
	if r.machine.Status().Terminal() {
		return domain.Rejectf(domain.CodeNotInProgress, "match in room %s is %s", r.ID, r.machine.Status())
	}
	r.apply(r.machine.Abandon())
	return nil
}

func (r *Room) requireHost(playerID string) error {
	if host := r.machine.Host(); host != playerID {
		return domain.Rejectf(domain.CodeNotHost, "only the host (%s) can do that", host)
	}
	return nil
}

// apply broadcasts the events of one operation and reports terminal ones.
func (r *Room) apply(events []match.Event) {
	if len(events) == 0 {
		return
	}
	snap := r.machine.Snapshot()
	for _, ev := range events {
		switch ev.Type {
		case match.EventRoundStarted:
			// A fresh round counts down a full tick before its first decrement.
			if r.ticker != nil {
				r.ticker.Reset(r.cfg.Tick)
			}
			r.broadcast(Message{Type: MsgRoundStarted, Payload: ev.Round, State: &snap})
		case match.EventRoundSettled:
			r.broadcast(Message{Type: MsgRoundSettled, Payload: ev.Settlement, State: &snap})
		case match.EventMatchFinished:
			r.broadcast(Message{Type: MsgMatchFinished, Payload: FinishedPayload{Standings: ev.Standings}, State: &snap})
			r.log.Info("match finished")
			r.obs.matchFinished(r.machine.Result(r.ID), r.scopes)
		case match.EventMatchAbandoned:
			r.broadcast(Message{Type: MsgMatchAbandoned, State: &snap})
			r.log.Info("match abandoned")
			r.obs.matchAbandoned(r.machine.Mode())
		}
	}
	r.changed()
}

func (r *Room) subscribe(playerID, name string) *Subscription {
	if old, ok := r.subs[playerID]; ok {
		close(old.ch)
	}
	r.nextSub++
	s := &subscriber{id: r.nextSub, ch: make(chan Message, subscriberBuffer)}
	r.subs[playerID] = s
	return &Subscription{
		Session:  Session{RoomID: r.ID, PlayerID: playerID, DisplayName: name},
		ID:       s.id,
		Messages: s.ch,
	}
}

func (r *Room) broadcast(msg Message) {
	r.broadcastExcept("", msg)
}

func (r *Room) broadcastExcept(skip string, msg Message) {
	for id := range r.subs {
		if id != skip {
			r.deliver(id, msg)
		}
	}
}

// deliver never blocks: a slow subscriber loses its oldest queued message.
func (r *Room) deliver(playerID string, msg Message) {
	s, ok := r.subs[playerID]
	if !ok {
		return
	}
	select {
	case s.ch <- msg:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- msg
		r.log.WithField("player", playerID).Debug("slow subscriber, dropped oldest message")
	}
}

func (r *Room) dropSubscribers() {
	for id, s := range r.subs {
		close(s.ch)
		delete(r.subs, id)
	}
}

func (r *Room) limiter(playerID string) *rate.Limiter {
	l, ok := r.limiters[playerID]
	if !ok {
		l = rate.NewLimiter(r.cfg.ChatRate, r.cfg.ChatBurst)
		r.limiters[playerID] = l
	}
	return l
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		RoomID:    r.ID,
		Mode:      r.machine.Mode(),
		Status:    r.machine.Status(),
		Players:   len(r.machine.Players()),
		Connected: r.machine.ConnectedCount(),
		UpdatedAt: r.cfg.Now(),
	}
}

func (r *Room) changed() {
	r.obs.roomChanged(r.info())
}
