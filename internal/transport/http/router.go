package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"quiz-match-service/internal/domain"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Rankings serves leaderboard reads.
type Rankings interface {
	Top(ctx context.Context, scope, scopeID string, n int) ([]domain.RankedEntry, error)
}

type RouterConfig struct {
	Matches        Matches
	Rankings       Rankings
	Metrics        http.Handler
	AllowedOrigins []string
	// APIRate limits /api requests per client IP. Zero disables limiting.
	APIRate  rate.Limit
	APIBurst int
	Log      logrus.FieldLogger
}

// NewRouter mounts the websocket endpoint, the read API and ops endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	ws := NewWSHandler(cfg.Matches, originChecker(cfg.AllowedOrigins), cfg.Log)
	r.Get("/ws", ws.ServeWS)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	api := &apiHandler{matches: cfg.Matches, rankings: cfg.Rankings}
	r.Route("/api", func(r chi.Router) {
		if cfg.APIRate > 0 {
			r.Use(rateLimit(newIPRateLimiter(cfg.APIRate, cfg.APIBurst)))
		}
		r.Get("/rooms", api.listRooms)
		r.Get("/rooms/{roomId}", api.roomSnapshot)
		r.Get("/leaderboards/{scope}/{scopeId}", api.leaderboard)
	})
	return r
}

type apiHandler struct {
	matches  Matches
	rankings Rankings
}

func (a *apiHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.matches.Rooms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (a *apiHandler) roomSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.matches.Snapshot(r.Context(), chi.URLParam(r, "roomId"))
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrRoomClosed):
		writeError(w, http.StatusNotFound, "room not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to read room")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *apiHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if a.rankings == nil {
		writeError(w, http.StatusNotFound, "leaderboards disabled")
		return
	}
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}
	entries, err := a.rankings.Top(r.Context(), chi.URLParam(r, "scope"), chi.URLParam(r, "scopeId"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs one line per request with logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
