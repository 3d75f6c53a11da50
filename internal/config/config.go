package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quiz-match-service/internal/domain"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		APIRate        float64  `yaml:"api_rate"`
		APIBurst       int      `yaml:"api_burst"`
		ShutdownWait   string   `yaml:"shutdown_wait"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Rooms struct {
		MaxPlayers    int     `yaml:"max_players"`
		ChatPerSecond float64 `yaml:"chat_per_second"`
		ChatBurst     int     `yaml:"chat_burst"`
	} `yaml:"rooms"`
	Game struct {
		TickInterval string             `yaml:"tick_interval"`
		ConfigTTL    string             `yaml:"config_ttl"`
		Defaults     domain.RoundConfig `yaml:"defaults"`
	} `yaml:"game"`
	Sink struct {
		QueueSize  int    `yaml:"queue_size"`
		Workers    int    `yaml:"workers"`
		MaxElapsed string `yaml:"max_elapsed"`
	} `yaml:"sink"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (Config, error) {
	cfg := Default()
	// .env is optional; variables already set in the process win.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	cfg := Config{}
	cfg.Server.APIRate = 20
	cfg.Server.APIBurst = 40
	cfg.Server.ShutdownWait = "10s"
	cfg.Rooms.MaxPlayers = 16
	cfg.Rooms.ChatPerSecond = 2
	cfg.Rooms.ChatBurst = 5
	cfg.Game.TickInterval = "1s"
	cfg.Game.ConfigTTL = "1m"
	cfg.Game.Defaults = DefaultRoundConfig()
	cfg.Sink.QueueSize = 256
	cfg.Sink.Workers = 1
	cfg.Sink.MaxElapsed = "2m"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// DefaultRoundConfig is the built-in rule set used when no active config exists.
func DefaultRoundConfig() domain.RoundConfig {
	return domain.RoundConfig{
		GameType:               "default",
		TimePerQuestionSec:     domain.Seconds(15),
		QuestionCount:          10,
		MaxAttemptsPerQuestion: 1,
		PenaltyEnabled:         false,
		ScoringMode:            domain.ScoringPractice,
		ShuffleChoices:         true,
		RandomQuestionOrder:    true,
		ShowTimer:              true,
		RevealDelaySec:         3,
		BasePoints:             100,
		TimeBonusCap:           50,
		StreakUnit:             10,
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		cfg.Game.TickInterval = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
