package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stockify/internal/game"
)

type APIConfig struct {
	Addr          string
	DatabaseURL   string
	DataDir       string
	AdminToken    string
	Engine        game.Settings
	Entities      []string
	StaticMetrics string

	SpotifyClientID     string
	SpotifyClientSecret string
	GeminiAPIKey        string
	GeminiModel         string
}

type WorkerConfig struct {
	APIBaseURL     string
	AdminToken     string
	TickEvery      time.Duration
	PeriodsPerTick float64
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STOCKIFY_API_ADDR", ":8080")
	}

	engine := game.DefaultSettings()
	engine.Growth.MinRate = envFloatDefault("STOCKIFY_GROWTH_MIN", engine.Growth.MinRate)
	engine.Growth.MaxRate = envFloatDefault("STOCKIFY_GROWTH_MAX", engine.Growth.MaxRate)
	engine.Growth.PopularityInfluence = envFloatDefault("STOCKIFY_POPULARITY_INFLUENCE", engine.Growth.PopularityInfluence)
	engine.Growth.StaleAfter = envDurationDefault("STOCKIFY_STALE_AFTER", 0)
	engine.HistoryCapacity = envIntDefault("STOCKIFY_HISTORY_CAPACITY", game.DefaultHistoryCapacity)
	engine.Bucket = game.ParseGranularity(envDefault("STOCKIFY_HISTORY_BUCKET", string(game.BucketDay)))
	engine.Seed = int64(envIntDefault("STOCKIFY_SEED", 0))

	cfg := APIConfig{
		Addr:                addr,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DataDir:             envDefault("STOCKIFY_DATA_DIR", "./stockify-data"),
		AdminToken:          strings.TrimSpace(os.Getenv("STOCKIFY_ADMIN_TOKEN")),
		Engine:              engine,
		Entities:            envList("STOCKIFY_ENTITIES"),
		StaticMetrics:       strings.TrimSpace(os.Getenv("STOCKIFY_STATIC_METRICS")),
		SpotifyClientID:     strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_ID")),
		SpotifyClientSecret: strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_SECRET")),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:         envDefault("STOCKIFY_GEMINI_MODEL", "gemini-2.5-flash"),
	}
	if cfg.Engine.Growth.MinRate < 0 || cfg.Engine.Growth.MaxRate < cfg.Engine.Growth.MinRate {
		return cfg, fmt.Errorf("growth rates must satisfy 0 <= STOCKIFY_GROWTH_MIN <= STOCKIFY_GROWTH_MAX")
	}
	if (cfg.SpotifyClientID == "") != (cfg.SpotifyClientSecret == "") {
		return cfg, fmt.Errorf("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set together")
	}
	if cfg.SpotifyClientID == "" && cfg.StaticMetrics == "" {
		return cfg, fmt.Errorf("SPOTIFY_CLIENT_ID or STOCKIFY_STATIC_METRICS is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		APIBaseURL:     strings.TrimRight(envDefault("STOCKIFY_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken:     strings.TrimSpace(os.Getenv("STOCKIFY_ADMIN_TOKEN")),
		TickEvery:      envDurationDefault("STOCKIFY_TICK_EVERY", 5*time.Second),
		PeriodsPerTick: envFloatDefault("STOCKIFY_PERIODS_PER_TICK", 1),
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("STOCKIFY_ADMIN_TOKEN is required")
	}
	if cfg.TickEvery <= 0 {
		return cfg, fmt.Errorf("STOCKIFY_TICK_EVERY must be positive")
	}
	if cfg.PeriodsPerTick < 0 {
		return cfg, fmt.Errorf("STOCKIFY_PERIODS_PER_TICK must be >= 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("STK_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
