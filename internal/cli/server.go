package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/config"
	"quiz-match-service/internal/gameconfig"
	"quiz-match-service/internal/infra/memory"
	pginfra "quiz-match-service/internal/infra/postgres"
	redisinfra "quiz-match-service/internal/infra/redis"
	"quiz-match-service/internal/leaderboard"
	"quiz-match-service/internal/logging"
	"quiz-match-service/internal/metrics"
	"quiz-match-service/internal/sink"
	transport "quiz-match-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	m := metrics.New()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pginfra.OpenBun(cfg.Postgres.URL)
		defer db.Close()
	}

	builtin := memory.NewStaticQuestionLoader(memory.BuiltinQuestions())
	var loader memory.QuestionLoader = builtin
	var configStore gameconfig.Store
	if pool != nil {
		loader = memory.NewFallbackLoader(pginfra.NewQuestionLoader(pool), builtin, log)
		configStore = pginfra.NewConfigStore(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionCache(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	resolver := gameconfig.NewResolver(configStore, cfg.Game.Defaults, config.TTLDuration(cfg.Game.ConfigTTL, time.Minute), log)

	var durable sink.Sink = memory.NewResultLog()
	if db != nil {
		durable = pginfra.NewStore(db)
	}
	recorder := sink.NewRecorder(durable, sink.Options{
		QueueSize:  cfg.Sink.QueueSize,
		Workers:    cfg.Sink.Workers,
		MaxElapsed: config.TTLDuration(cfg.Sink.MaxElapsed, 2*time.Minute),
	}, log, m)

	boardStore := leaderboardStore(redisClient, db)
	var registry app.RoomRegistry
	if redisClient != nil {
		registry = redisinfra.NewRoomRegistry(redisClient, redisTTL)
	} else {
		registry = memory.NewRoomRegistry()
	}
	boards := leaderboard.NewAggregator(boardStore, recorder, log)

	coord := app.NewCoordinator(app.Deps{
		Questions:   questions,
		Configs:     resolver,
		Leaderboard: boards,
		Results:     recorder,
		Registry:    registry,
		Metrics:     m,
		Log:         log,
	}, app.Options{
		TickInterval:  config.TTLDuration(cfg.Game.TickInterval, time.Second),
		MaxPlayers:    cfg.Rooms.MaxPlayers,
		ChatPerSecond: cfg.Rooms.ChatPerSecond,
		ChatBurst:     cfg.Rooms.ChatBurst,
	})

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(transport.RouterConfig{
			Matches:        coord,
			Rankings:       boards,
			Metrics:        m.Handler(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			APIRate:        rate.Limit(cfg.Server.APIRate),
			APIBurst:       cfg.Server.APIBurst,
			Log:            log,
		}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("starting match server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Drains after Close; not tied to gctx so queued writes survive shutdown.
		recorder.Run(context.Background())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down match server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownWait, 10*time.Second))
		defer cancel()
		return shutdown(shutdownCtx, server, coord, recorder, log)
	})
	return g.Wait()
}

// leaderboardStore prefers Redis, then Postgres, then process memory.
func leaderboardStore(redisClient *redis.Client, db *bun.DB) leaderboard.Store {
	switch {
	case redisClient != nil:
		return redisinfra.NewLeaderboardStore(redisClient)
	case db != nil:
		// Shares leaderboard_entries with the sink; the second insert is a no-op.
		return pginfra.NewStore(db)
	default:
		return memory.NewLeaderboardStore()
	}
}

func shutdown(ctx context.Context, server *http.Server, coord *app.Coordinator, recorder *sink.Recorder, log logrus.FieldLogger) error {
	err := server.Shutdown(ctx)
	if cerr := coord.Shutdown(ctx); cerr != nil {
		log.WithError(cerr).Warn("rooms did not stop in time")
	}
	recorder.Close()
	return err
}
