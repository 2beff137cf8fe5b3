package config

import (
	"testing"
	"time"

	"stockify/internal/game"
)

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STOCKIFY_API_ADDR", "")
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")
	t.Setenv("STOCKIFY_STATIC_METRICS", "a:100")
	t.Setenv("STOCKIFY_ENTITIES", " a, ,b ")
	t.Setenv("STOCKIFY_HISTORY_BUCKET", "")
	t.Setenv("STOCKIFY_HISTORY_CAPACITY", "")
	t.Setenv("STOCKIFY_GROWTH_MIN", "")
	t.Setenv("STOCKIFY_GROWTH_MAX", "")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Engine.HistoryCapacity != game.DefaultHistoryCapacity || cfg.Engine.Bucket != game.BucketDay {
		t.Fatalf("history defaults not applied: %+v", cfg.Engine)
	}
	if len(cfg.Entities) != 2 || cfg.Entities[0] != "a" || cfg.Entities[1] != "b" {
		t.Fatalf("entities=%v", cfg.Entities)
	}
}

func TestLoadAPIFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("STOCKIFY_GROWTH_MIN", "0.001")
	t.Setenv("STOCKIFY_GROWTH_MAX", "0.002")
	t.Setenv("STOCKIFY_STALE_AFTER", "10m")
	t.Setenv("STOCKIFY_HISTORY_BUCKET", "hour")
	t.Setenv("STOCKIFY_SEED", "42")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Engine.Growth.MinRate != 0.001 || cfg.Engine.Growth.MaxRate != 0.002 {
		t.Fatalf("growth=%+v", cfg.Engine.Growth)
	}
	if cfg.Engine.Growth.StaleAfter != 10*time.Minute || cfg.Engine.Bucket != game.BucketHour || cfg.Engine.Seed != 42 {
		t.Fatalf("engine=%+v", cfg.Engine)
	}
}

func TestLoadAPIFromEnvRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no metric source", env: map[string]string{"SPOTIFY_CLIENT_ID": "", "SPOTIFY_CLIENT_SECRET": "", "STOCKIFY_STATIC_METRICS": ""}},
		{name: "half spotify credentials", env: map[string]string{"SPOTIFY_CLIENT_ID": "id", "SPOTIFY_CLIENT_SECRET": ""}},
		{name: "inverted growth", env: map[string]string{"STOCKIFY_STATIC_METRICS": "a:1", "STOCKIFY_GROWTH_MIN": "0.5", "STOCKIFY_GROWTH_MAX": "0.1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("SPOTIFY_CLIENT_ID", "")
			t.Setenv("SPOTIFY_CLIENT_SECRET", "")
			t.Setenv("STOCKIFY_STATIC_METRICS", "")
			t.Setenv("STOCKIFY_GROWTH_MIN", "")
			t.Setenv("STOCKIFY_GROWTH_MAX", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadAPIFromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("STOCKIFY_ADMIN_TOKEN", "")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected missing admin token error")
	}

	t.Setenv("STOCKIFY_ADMIN_TOKEN", "s3cret")
	t.Setenv("STOCKIFY_TICK_EVERY", "")
	t.Setenv("STOCKIFY_PERIODS_PER_TICK", "2.5")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickEvery != 5*time.Second || cfg.PeriodsPerTick != 2.5 {
		t.Fatalf("cfg=%+v", cfg)
	}
}
