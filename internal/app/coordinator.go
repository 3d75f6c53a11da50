// Package app coordinates live matches: one worker goroutine per room, fan-out
// of match events to participants, and the hand-off of finished matches to the
// leaderboard and persistence sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/leaderboard"
	"quiz-match-service/internal/match"
	"quiz-match-service/internal/metrics"
)

// QuestionRepository serves the question pool for a match.
type QuestionRepository interface {
	QuestionsByFilter(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// ConfigResolver picks the rule set for a game type. It never fails.
type ConfigResolver interface {
	Resolve(ctx context.Context, gameType string) domain.RoundConfig
}

// RoomRegistry mirrors live rooms for listing, possibly across instances.
type RoomRegistry interface {
	Register(ctx context.Context, info RoomInfo) error
	Remove(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]RoomInfo, error)
}

// Leaderboard records finished matches.
type Leaderboard interface {
	RecordMatch(ctx context.Context, result domain.MatchResult, extra ...leaderboard.Scope)
}

// ResultQueue hands finished matches to the persistence sink without blocking.
type ResultQueue interface {
	EnqueueResult(result domain.MatchResult) bool
}

// Deps are the collaborators of a Coordinator. Leaderboard, Results, Registry
// and Metrics are optional.
type Deps struct {
	Questions   QuestionRepository
	Configs     ConfigResolver
	Leaderboard Leaderboard
	Results     ResultQueue
	Registry    RoomRegistry
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
}

// Options tune room behaviour.
type Options struct {
	TickInterval  time.Duration
	MaxPlayers    int
	ChatPerSecond float64
	ChatBurst     int
	// Clock and Seed make matches reproducible in tests.
	Clock func() time.Time
	Seed  int64
}

const (
	registryQueueSize = 256
	sideEffectTimeout = 10 * time.Second
)

type registryOp struct {
	info   RoomInfo
	remove bool
}

// Coordinator owns the set of live rooms.
type Coordinator struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[string]*Room
	seed  int64

	registryQ chan registryOp
	workers   sync.WaitGroup
	effects   sync.WaitGroup
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 16
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		deps:      deps,
		opts:      opts,
		log:       deps.Log.WithField("component", "coordinator"),
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]*Room),
		seed:      opts.Seed,
		registryQ: make(chan registryOp, registryQueueSize),
	}
	c.workers.Add(1)
	go c.runRegistry()
	return c
}

// Join attaches the session's player to a room, creating a waiting room in
// mode when none exists.
func (c *Coordinator) Join(ctx context.Context, s Session, mode domain.Mode) (*Subscription, error) {
	if s.RoomID == "" || s.PlayerID == "" {
		return nil, domain.Rejectf(domain.CodeBadRequest, "room and player ids are required")
	}
	if mode == domain.ModeSolo {
		return nil, domain.Rejectf(domain.CodeSoloRoom, "solo rooms are opened with CreateSolo")
	}
	// A room can stop between lookup and join; retry against a fresh one.
	for attempt := 0; attempt < 3; attempt++ {
		room := c.getOrCreate(s.RoomID, mode)
		sub, err := room.Join(ctx, s.PlayerID, s.DisplayName)
		if errors.Is(err, domain.ErrRoomClosed) {
			c.forget(room)
			continue
		}
		return sub, err
	}
	return nil, domain.ErrRoomClosed
}

// CreateSolo opens a private room seeded with one player and joins it.
func (c *Coordinator) CreateSolo(ctx context.Context, playerID, displayName string) (*Subscription, error) {
	if playerID == "" {
		return nil, domain.Rejectf(domain.CodeBadRequest, "player id is required")
	}
	roomID := "solo-" + uuid.NewString()
	m := match.NewSolo(uuid.NewString(), playerID, displayName, 0, c.machineOptions()...)
	room := c.launch(roomID, m)
	return room.Join(ctx, playerID, displayName)
}

// Start resolves the game config and loads questions, then asks the room to
// start. The I/O happens here so the room worker never waits on it.
func (c *Coordinator) Start(ctx context.Context, s Session, opts StartOptions) error {
	room, err := c.room(s.RoomID)
	if err != nil {
		return err
	}
	cfg := domain.RoundConfig{}
	if c.deps.Configs != nil {
		cfg = c.deps.Configs.Resolve(ctx, opts.GameType)
	}
	if opts.Category != "" {
		cfg.Category = opts.Category
	}
	if opts.Difficulty >= domain.MinDifficulty && opts.Difficulty <= domain.MaxDifficulty {
		cfg.Difficulty = opts.Difficulty
	}
	total := opts.TotalRounds
	if total <= 0 {
		total = cfg.QuestionCount
	}

	// Fetch a wider pool than needed so solo matches can adapt difficulty.
	questions, err := c.deps.Questions.QuestionsByFilter(ctx, domain.QuestionFilter{
		Category:   cfg.Category,
		Difficulty: cfg.Difficulty,
		Limit:      total * 3,
	})
	if err != nil {
		return fmt.Errorf("load questions for room %s: %w", s.RoomID, err)
	}

	var scopes []leaderboard.Scope
	if cfg.Category != "" {
		scopes = append(scopes, leaderboard.Scope{Scope: domain.ScopeCategory, ScopeID: cfg.Category})
	}
	return room.Start(ctx, s.PlayerID, match.StartParams{
		Config:      cfg,
		Questions:   questions,
		TotalRounds: total,
	}, scopes)
}

// SubmitAnswer forwards a choice. questionID may be empty; when set it must be
// the open question.
func (c *Coordinator) SubmitAnswer(ctx context.Context, s Session, questionID, choiceID string) (domain.AnswerOutcome, error) {
	room, err := c.room(s.RoomID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	return room.Submit(ctx, s.PlayerID, questionID, choiceID)
}

// Next settles the open round and advances. Host only.
func (c *Coordinator) Next(ctx context.Context, s Session) error {
	room, err := c.room(s.RoomID)
	if err != nil {
		return err
	}
	return room.Next(ctx, s.PlayerID)
}

func (c *Coordinator) Chat(ctx context.Context, s Session, text string) error {
	room, err := c.room(s.RoomID)
	if err != nil {
		return err
	}
	return room.Chat(ctx, s.PlayerID, text)
}

// Abandon ends the match early. Host only; nothing is ranked.
func (c *Coordinator) Abandon(ctx context.Context, s Session) error {
	room, err := c.room(s.RoomID)
	if err != nil {
		return err
	}
	return room.Abandon(ctx, s.PlayerID)
}

// Leave detaches sub. It is safe to call more than once and after the room is
// gone.
func (c *Coordinator) Leave(ctx context.Context, sub *Subscription) {
	if sub == nil {
		return
	}
	room, err := c.room(sub.RoomID)
	if err != nil {
		return
	}
	if err := room.Leave(ctx, sub.PlayerID, sub.ID); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
		c.log.WithError(err).WithField("room", sub.RoomID).Warn("leave")
	}
}

// Snapshot returns the public state of a live room.
func (c *Coordinator) Snapshot(ctx context.Context, roomID string) (match.Snapshot, error) {
	room, err := c.room(roomID)
	if err != nil {
		return match.Snapshot{}, err
	}
	return room.Snapshot(ctx)
}

// Rooms lists live rooms from the registry, or from memory without one.
func (c *Coordinator) Rooms(ctx context.Context) ([]RoomInfo, error) {
	if c.deps.Registry != nil {
		return c.deps.Registry.List(ctx)
	}
	c.mu.Lock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			continue
		}
		connected := 0
		for _, p := range snap.Players {
			if p.Connected {
				connected++
			}
		}
		out = append(out, RoomInfo{
			RoomID:    r.ID,
			Mode:      snap.Mode,
			Status:    snap.Status,
			Players:   len(snap.Players),
			Connected: connected,
		})
	}
	return out, nil
}

// Shutdown stops every room and waits for workers and pending side effects.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		c.effects.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) room(roomID string) (*Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	return r, nil
}

func (c *Coordinator) getOrCreate(roomID string, mode domain.Mode) *Room {
	c.mu.Lock()
	if r, ok := c.rooms[roomID]; ok {
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()
	m := match.New(uuid.NewString(), mode, 0, c.machineOptions()...)
	return c.launch(roomID, m)
}

// launch registers and starts a room unless another goroutine won the race,
// in which case the existing room is returned.
func (c *Coordinator) launch(roomID string, m *match.Machine) *Room {
	room := newRoom(roomID, m, roomConfig{
		Tick:      c.opts.TickInterval,
		ChatRate:  rate.Limit(c.opts.ChatPerSecond),
		ChatBurst: c.opts.ChatBurst,
		Now:       c.opts.Clock,
	}, c, c.deps.Log)

	c.mu.Lock()
	if existing, ok := c.rooms[roomID]; ok {
		c.mu.Unlock()
		return existing
	}
	c.rooms[roomID] = room
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveRooms.Inc()
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		room.Run(c.ctx)
	}()
	return room
}

func (c *Coordinator) forget(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.rooms[r.ID]; ok && cur == r {
		delete(c.rooms, r.ID)
	}
}

func (c *Coordinator) machineOptions() []match.Option {
	c.mu.Lock()
	c.seed++
	seed := c.seed
	c.mu.Unlock()
	return []match.Option{
		match.WithClock(c.opts.Clock),
		match.WithRand(rand.New(rand.NewSource(seed))),
		match.WithMaxPlayers(c.opts.MaxPlayers),
	}
}

// sideEffect runs fn off the room worker.
func (c *Coordinator) sideEffect(fn func(ctx context.Context)) {
	c.effects.Add(1)
	go func() {
		defer c.effects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Coordinator) runRegistry() {
	defer c.workers.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case op := <-c.registryQ:
			if c.deps.Registry == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, sideEffectTimeout)
			var err error
			if op.remove {
				err = c.deps.Registry.Remove(ctx, op.info.RoomID)
			} else {
				err = c.deps.Registry.Register(ctx, op.info)
			}
			cancel()
			if err != nil {
				c.log.WithError(err).WithField("room", op.info.RoomID).Warn("room registry update failed")
			}
		}
	}
}

func (c *Coordinator) queueRegistry(op registryOp) {
	if c.deps.Registry == nil {
		return
	}
	select {
	case c.registryQ <- op:
	default:
		c.log.WithField("room", op.info.RoomID).Warn("room registry queue full")
	}
}

// roomObserver

func (c *Coordinator) roomChanged(info RoomInfo) {
	c.queueRegistry(registryOp{info: info})
}

func (c *Coordinator) roomClosed(r *Room) {
	c.forget(r)
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveRooms.Dec()
	}
	c.queueRegistry(registryOp{info: RoomInfo{RoomID: r.ID}, remove: true})
}

func (c *Coordinator) matchStarted(mode domain.Mode) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.MatchesStarted.WithLabelValues(string(mode)).Inc()
	}
}

func (c *Coordinator) answerAccepted(outcome domain.Outcome) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.Answers.WithLabelValues(string(outcome)).Inc()
	}
}

func (c *Coordinator) chatSent() {
	if c.deps.Metrics != nil {
		c.deps.Metrics.ChatMessages.Inc()
	}
}

func (c *Coordinator) matchFinished(result domain.MatchResult, scopes []leaderboard.Scope) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.MatchesFinished.WithLabelValues(string(result.Mode)).Inc()
	}
	c.sideEffect(func(ctx context.Context) {
		if c.deps.Leaderboard != nil {
			c.deps.Leaderboard.RecordMatch(ctx, result, scopes...)
		}
		if c.deps.Results != nil && !c.deps.Results.EnqueueResult(result) {
			c.log.WithField("match", result.MatchID).Warn("match result not queued")
		}
	})
}

func (c *Coordinator) matchAbandoned(mode domain.Mode) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.MatchesAbandoned.WithLabelValues(string(mode)).Inc()
	}
}
