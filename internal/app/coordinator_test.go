package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/gameconfig"
	"quiz-match-service/internal/infra/memory"
	"quiz-match-service/internal/leaderboard"
	"quiz-match-service/internal/logging"
	"quiz-match-service/internal/match"
	"quiz-match-service/internal/metrics"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	coord   *app.Coordinator
	boards  *leaderboard.Aggregator
	results *resultQueue
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, registry app.RoomRegistry) *harness {
	t.Helper()
	log := logging.Discard()
	boards := leaderboard.NewAggregator(memory.NewLeaderboardStore(), nil, log)
	results := &resultQueue{}
	m := metrics.New()
	cfg := domain.RoundConfig{
		GameType:               "test",
		QuestionCount:          2,
		MaxAttemptsPerQuestion: 1,
		ScoringMode:            domain.ScoringPractice,
		BasePoints:             100,
		StreakUnit:             10,
	}
	deps := app.Deps{
		Questions:   memory.NewQuestionRepository(memory.NewStaticQuestionLoader(memory.BuiltinQuestions()), time.Minute),
		Configs:     gameconfig.NewResolver(nil, cfg, time.Minute, log),
		Leaderboard: boards,
		Results:     results,
		Metrics:     m,
		Log:         log,
	}
	if registry != nil {
		deps.Registry = registry
	}
	coord := app.NewCoordinator(deps, app.Options{
		TickInterval:  time.Hour,
		ChatPerSecond: 1,
		ChatBurst:     2,
		Clock:         func() time.Time { return fixedNow },
		Seed:          7,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return &harness{coord: coord, boards: boards, results: results, metrics: m}
}

type resultQueue struct {
	mu      sync.Mutex
	results []domain.MatchResult
}

func (q *resultQueue) EnqueueResult(r domain.MatchResult) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, r)
	return true
}

func (q *resultQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

func next(t *testing.T, sub *app.Subscription, want app.MessageType) app.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-sub.Messages:
			if !ok {
				t.Fatalf("subscription of %s closed while waiting for %s", sub.PlayerID, want)
			}
			if msg.Type == want {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func join(t *testing.T, c *app.Coordinator, room, player string) *app.Subscription {
	t.Helper()
	sub, err := c.Join(context.Background(), app.Session{RoomID: room, PlayerID: player, DisplayName: strings.ToUpper(player)}, domain.ModeGroup)
	if err != nil {
		t.Fatalf("join %s: %v", player, err)
	}
	next(t, sub, app.MsgRoomJoined)
	return sub
}

func correctAnswer(t *testing.T, questionID string) string {
	t.Helper()
	for _, q := range memory.BuiltinQuestions() {
		if q.ID == questionID {
			return q.CorrectChoiceID()
		}
	}
	t.Fatalf("unknown question %s", questionID)
	return ""
}

func TestSoloMatchFinishesAndRecords(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub, err := h.coord.CreateSolo(ctx, "p1", "Pat")
	if err != nil {
		t.Fatalf("create solo: %v", err)
	}
	joined := next(t, sub, app.MsgRoomJoined)
	if p := joined.Payload.(app.JoinedPayload); p.Mode != domain.ModeSolo || p.Host != "p1" {
		t.Fatalf("unexpected joined payload %+v", p)
	}

	if err := h.coord.Start(ctx, sub.Session, app.StartOptions{TotalRounds: 2, Category: "science"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		msg := next(t, sub, app.MsgRoundStarted)
		round := msg.Payload.(*match.RoundStarted)
		if round.RoundIndex != i {
			t.Fatalf("expected round %d, got %d", i, round.RoundIndex)
		}
		if msg.State.Round == nil || msg.State.Round.CorrectChoiceID != "" {
			t.Fatalf("open round must not reveal its answer: %+v", msg.State.Round)
		}
		out, err := h.coord.SubmitAnswer(ctx, sub.Session, round.Question.ID, correctAnswer(t, round.Question.ID))
		if err != nil {
			t.Fatalf("answer round %d: %v", i, err)
		}
		if !out.Correct || out.PointsEarned <= 0 {
			t.Fatalf("expected points for a correct answer, got %+v", out)
		}
		next(t, sub, app.MsgRoundSettled)
	}

	finished := next(t, sub, app.MsgMatchFinished)
	standings := finished.Payload.(app.FinishedPayload).Standings
	if len(standings) != 1 || standings[0].PlayerID != "p1" || standings[0].Rank != 1 {
		t.Fatalf("unexpected standings %+v", standings)
	}
	if standings[0].BestStreak != 2 {
		t.Fatalf("expected best streak 2, got %d", standings[0].BestStreak)
	}

	eventually(t, func() bool {
		global, _ := h.boards.Top(ctx, domain.ScopeOverall, domain.ScopeIDGlobal, 10)
		science, _ := h.boards.Top(ctx, domain.ScopeCategory, "science", 10)
		return len(global) == 1 && len(science) == 1 && h.results.len() == 1
	}, "leaderboard entries and sink result recorded")

	global, _ := h.boards.Top(ctx, domain.ScopeOverall, domain.ScopeIDGlobal, 10)
	if global[0].Score != standings[0].Score || global[0].MatchID == "" {
		t.Fatalf("leaderboard entry does not match standings: %+v", global[0])
	}
	if got := testutil.ToFloat64(h.metrics.MatchesFinished.WithLabelValues("solo")); got != 1 {
		t.Fatalf("expected one finished solo match, got %v", got)
	}

	// A finished match keeps rejecting answers.
	_, err = h.coord.SubmitAnswer(ctx, sub.Session, "", "x")
	if !domain.IsValidation(err, domain.CodeNotInProgress) {
		t.Fatalf("expected not_in_progress, got %v", err)
	}
}

func TestGroupHostAndChat(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := join(t, h.coord, "room-1", "alice")
	bob := join(t, h.coord, "room-1", "bob")

	if err := h.coord.Start(ctx, bob.Session, app.StartOptions{}); !domain.IsValidation(err, domain.CodeNotHost) {
		t.Fatalf("expected not_host, got %v", err)
	}

	for _, text := range []string{"hello", "  there  "} {
		if err := h.coord.Chat(ctx, alice.Session, text); err != nil {
			t.Fatalf("chat %q: %v", text, err)
		}
	}
	first := next(t, bob, app.MsgChat).Payload.(app.ChatMessage)
	second := next(t, bob, app.MsgChat).Payload.(app.ChatMessage)
	if first.Seq != 1 || second.Seq != 2 || first.Text != "hello" || second.Text != "there" {
		t.Fatalf("chat out of order: %+v %+v", first, second)
	}
	if first.DisplayName != "ALICE" || first.ID == "" || !first.SentAt.Equal(fixedNow) {
		t.Fatalf("unexpected chat envelope %+v", first)
	}
	// The sender sees its own message too.
	next(t, alice, app.MsgChat)

	if err := h.coord.Chat(ctx, alice.Session, "again"); !domain.IsValidation(err, domain.CodeChatRateLimited) {
		t.Fatalf("expected chat_rate_limited, got %v", err)
	}
	if err := h.coord.Chat(ctx, bob.Session, "   "); !domain.IsValidation(err, domain.CodeChatInvalid) {
		t.Fatalf("expected chat_invalid for blank text, got %v", err)
	}
	if err := h.coord.Chat(ctx, bob.Session, strings.Repeat("é", 501)); !domain.IsValidation(err, domain.CodeChatInvalid) {
		t.Fatalf("expected chat_invalid for long text, got %v", err)
	}
	stranger := app.Session{RoomID: "room-1", PlayerID: "mallory"}
	if err := h.coord.Chat(ctx, stranger, "hi"); !domain.IsValidation(err, domain.CodeUnknownPlayer) {
		t.Fatalf("expected unknown_player, got %v", err)
	}

	if err := h.coord.Abandon(ctx, bob.Session); !domain.IsValidation(err, domain.CodeNotHost) {
		t.Fatalf("expected not_host on abandon, got %v", err)
	}
	if err := h.coord.Start(ctx, alice.Session, app.StartOptions{TotalRounds: 2}); err != nil {
		t.Fatalf("start: %v", err)
	}
	next(t, bob, app.MsgRoundStarted)

	// Late joiners are turned away once the match runs.
	_, err := h.coord.Join(ctx, app.Session{RoomID: "room-1", PlayerID: "carol"}, domain.ModeGroup)
	if !domain.IsValidation(err, domain.CodeNotWaiting) {
		t.Fatalf("expected not_waiting, got %v", err)
	}

	if err := h.coord.Abandon(ctx, alice.Session); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	next(t, bob, app.MsgMatchAbandoned)
	if err := h.coord.Abandon(ctx, alice.Session); !domain.IsValidation(err, domain.CodeNotInProgress) {
		t.Fatalf("expected not_in_progress on second abandon, got %v", err)
	}
	if h.results.len() != 0 {
		t.Fatalf("abandoned match must not reach the sink")
	}
}

func TestEveryoneLeavingAbandonsMatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := join(t, h.coord, "room-2", "alice")
	bob := join(t, h.coord, "room-2", "bob")

	if err := h.coord.Start(ctx, alice.Session, app.StartOptions{TotalRounds: 2}); err != nil {
		t.Fatalf("start: %v", err)
	}
	next(t, alice, app.MsgRoundStarted)

	h.coord.Leave(ctx, alice)
	left := next(t, bob, app.MsgRoomUpdated)
	if host := left.Payload.(app.UpdatedPayload).Host; host != "bob" {
		t.Fatalf("expected host to pass to bob, got %q", host)
	}
	h.coord.Leave(ctx, bob)
	// Leave is idempotent.
	h.coord.Leave(ctx, bob)

	eventually(t, func() bool {
		_, err := h.coord.Snapshot(ctx, "room-2")
		return errors.Is(err, domain.ErrRoomNotFound) && testutil.ToFloat64(h.metrics.ActiveRooms) == 0
	}, "room closed after the last player left")

	if got := testutil.ToFloat64(h.metrics.MatchesAbandoned.WithLabelValues("group")); got != 1 {
		t.Fatalf("expected one abandoned match, got %v", got)
	}
	entries, _ := h.boards.Top(ctx, domain.ScopeOverall, domain.ScopeIDGlobal, 0)
	if len(entries) != 0 || h.results.len() != 0 {
		t.Fatalf("abandoned match must not be ranked: %d entries, %d results", len(entries), h.results.len())
	}
}

func TestReconnectReplacesSubscription(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := join(t, h.coord, "room-3", "alice")
	second := join(t, h.coord, "room-3", "alice")

	// The replaced subscription is closed.
	for range first.Messages {
	}
	// The stale subscription no longer detaches the player.
	h.coord.Leave(ctx, first)
	snap, err := h.coord.Snapshot(ctx, "room-3")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Players) != 1 {
		t.Fatalf("expected alice to stay in the room, got %+v", snap.Players)
	}
	h.coord.Leave(ctx, second)
}

func TestSoloRoomsRejectJoins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.coord.Join(ctx, app.Session{RoomID: "r", PlayerID: "p"}, domain.ModeSolo)
	if !domain.IsValidation(err, domain.CodeSoloRoom) {
		t.Fatalf("expected solo_room, got %v", err)
	}

	sub, err := h.coord.CreateSolo(ctx, "p1", "Pat")
	if err != nil {
		t.Fatalf("create solo: %v", err)
	}
	_, err = h.coord.Join(ctx, app.Session{RoomID: sub.RoomID, PlayerID: "p2"}, domain.ModeGroup)
	if !domain.IsValidation(err, domain.CodeSoloRoom) {
		t.Fatalf("expected solo_room for a second player, got %v", err)
	}

	_, err = h.coord.SubmitAnswer(ctx, app.Session{RoomID: "nope", PlayerID: "p1"}, "", "a")
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomsListing(t *testing.T) {
	registry := memory.NewRoomRegistry()
	h := newHarness(t, registry)
	ctx := context.Background()
	join(t, h.coord, "room-a", "alice")
	join(t, h.coord, "room-b", "bob")
	join(t, h.coord, "room-b", "carol")

	eventually(t, func() bool {
		rooms, err := h.coord.Rooms(ctx)
		return err == nil && len(rooms) == 2 && rooms[1].Players == 2
	}, "registry lists both rooms")

	plain := newHarness(t, nil)
	join(t, plain.coord, "room-c", "dave")
	rooms, err := plain.coord.Rooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != "room-c" || rooms[0].Connected != 1 {
		t.Fatalf("unexpected in-memory listing %+v", rooms)
	}
}
