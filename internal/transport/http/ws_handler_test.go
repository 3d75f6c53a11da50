package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/config"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/gameconfig"
	"quiz-match-service/internal/infra/memory"
	"quiz-match-service/internal/leaderboard"
	"quiz-match-service/internal/logging"
	"quiz-match-service/internal/metrics"
)

type testServer struct {
	*httptest.Server
	coord  *app.Coordinator
	boards *leaderboard.Aggregator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.Discard()
	boards := leaderboard.NewAggregator(memory.NewLeaderboardStore(), nil, log)
	m := metrics.New()
	coord := app.NewCoordinator(app.Deps{
		Questions:   memory.NewQuestionRepository(memory.NewStaticQuestionLoader(memory.BuiltinQuestions()), time.Minute),
		Configs:     gameconfig.NewResolver(nil, config.DefaultRoundConfig(), time.Minute, log),
		Leaderboard: boards,
		Metrics:     m,
		Log:         log,
	}, app.Options{TickInterval: time.Second, ChatPerSecond: 100, ChatBurst: 10})

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Matches:  coord,
		Rankings: boards,
		Metrics:  m.Handler(),
		Log:      log,
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = coord.Shutdown(context.Background())
	})
	return &testServer{Server: srv, coord: coord, boards: boards}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	State   *struct {
		Status  string `json:"status"`
		Players []struct {
			PlayerID string `json:"playerId"`
		} `json:"players"`
	} `json:"state"`
}

// readUntil reads envelopes until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestWebSocketGroupFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "roomId=r1&playerId=alice&name=Alice")
	joined := readUntil(t, alice, string(app.MsgRoomJoined))
	var jp app.JoinedPayload
	if err := json.Unmarshal(joined.Payload, &jp); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if jp.Host != "alice" || jp.RoomID != "r1" {
		t.Fatalf("unexpected joined payload %+v", jp)
	}

	bob := srv.dial(t, "roomId=r1&playerId=bob&name=Bob")
	readUntil(t, bob, string(app.MsgRoomJoined))
	updated := readUntil(t, alice, string(app.MsgRoomUpdated))
	if updated.State == nil || len(updated.State.Players) != 2 {
		t.Fatalf("expected two players in update, got %+v", updated.State)
	}

	// Only the host may start.
	send(t, bob, "room.start", map[string]any{"totalRounds": 2})
	errMsg := readUntil(t, bob, string(app.MsgError))
	var ep app.ErrorPayload
	_ = json.Unmarshal(errMsg.Payload, &ep)
	if ep.Code != domain.CodeNotHost {
		t.Fatalf("expected not_host, got %+v", ep)
	}

	send(t, alice, "room.start", map[string]any{"totalRounds": 2, "category": "science"})
	started := readUntil(t, bob, string(app.MsgRoundStarted))
	var round struct {
		Question domain.PublicQuestion `json:"question"`
	}
	if err := json.Unmarshal(started.Payload, &round); err != nil {
		t.Fatalf("decode round: %v", err)
	}
	if round.Question.ID == "" || len(round.Question.Choices) == 0 {
		t.Fatalf("round started without a question: %+v", round)
	}
	if strings.Contains(string(started.Payload), "correct") {
		t.Fatalf("round.started leaked the answer: %s", started.Payload)
	}

	send(t, bob, "answer.submit", map[string]any{"questionId": round.Question.ID, "choiceId": round.Question.Choices[0].ID})
	result := readUntil(t, bob, string(app.MsgAnswerResult))
	var out domain.AnswerOutcome
	if err := json.Unmarshal(result.Payload, &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.PlayerID != "bob" || out.QuestionID != round.Question.ID {
		t.Fatalf("unexpected outcome %+v", out)
	}

	send(t, alice, "chat.send", map[string]any{"text": "good luck"})
	chat := readUntil(t, bob, string(app.MsgChat))
	var cm app.ChatMessage
	_ = json.Unmarshal(chat.Payload, &cm)
	if cm.PlayerID != "alice" || cm.Text != "good luck" || cm.Seq == 0 {
		t.Fatalf("unexpected chat %+v", cm)
	}

	send(t, alice, "bogus", nil)
	readUntil(t, alice, string(app.MsgError))

	resp, err := http.Get(srv.URL + "/api/rooms/r1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	if snap.Status != string(domain.StatusInProgress) {
		t.Fatalf("expected in_progress, got %q", snap.Status)
	}
}

func TestWebSocketSoloRoom(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "mode=solo&playerId=p1&name=Solo")
	joined := readUntil(t, conn, string(app.MsgRoomJoined))
	var jp app.JoinedPayload
	_ = json.Unmarshal(joined.Payload, &jp)
	if jp.Mode != domain.ModeSolo || !strings.HasPrefix(jp.RoomID, "solo-") {
		t.Fatalf("unexpected solo join %+v", jp)
	}

	// Another player cannot join a solo room.
	other := srv.dial(t, "roomId="+jp.RoomID+"&playerId=p2")
	errMsg := readUntil(t, other, string(app.MsgError))
	var ep app.ErrorPayload
	_ = json.Unmarshal(errMsg.Payload, &ep)
	if ep.Code != domain.CodeSoloRoom {
		t.Fatalf("expected solo_room, got %+v", ep)
	}
}

func TestServeWSRequiresIdentity(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/ws?roomId=r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRESTEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/rooms/missing")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d", resp.StatusCode)
	}

	srv.boards.Record(context.Background(), domain.LeaderboardEntry{Scope: "overall", ScopeID: "global", PlayerID: "a", Score: 5})
	srv.boards.Record(context.Background(), domain.LeaderboardEntry{Scope: "overall", ScopeID: "global", PlayerID: "b", Score: 9})
	resp, err = http.Get(srv.URL + "/api/leaderboards/overall/global?limit=1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	var ranked []domain.RankedEntry
	_ = json.NewDecoder(resp.Body).Decode(&ranked)
	resp.Body.Close()
	if len(ranked) != 1 || ranked[0].PlayerID != "b" || ranked[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard %+v", ranked)
	}

	resp, err = http.Get(srv.URL + "/api/leaderboards/overall/global?limit=zero")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}

func TestAPIRateLimit(t *testing.T) {
	coord := app.NewCoordinator(app.Deps{Log: logging.Discard()}, app.Options{})
	defer coord.Shutdown(context.Background())
	h := NewRouter(RouterConfig{
		Matches:  coord,
		Log:      logging.Discard(),
		APIRate:  0.001,
		APIBurst: 1,
	})
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
}
