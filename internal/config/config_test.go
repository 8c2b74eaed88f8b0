package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with clean env: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.MaxDownloads != 5 {
		t.Fatalf("MaxDownloads = %d", cfg.MaxDownloads)
	}
	if cfg.ReaperInterval != 5*time.Minute {
		t.Fatalf("ReaperInterval = %v", cfg.ReaperInterval)
	}
	if cfg.DBPath != "delivery.db" || cfg.BooksPath != "books" || cfg.DefaultBrandDir != "default" {
		t.Fatalf("storage defaults: %q %q %q", cfg.DBPath, cfg.BooksPath, cfg.DefaultBrandDir)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q", cfg.GinMode)
	}
	if cfg.WriteTimeout < time.Minute {
		t.Fatalf("WriteTimeout %v too short for file streams", cfg.WriteTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("MAX_DOWNLOADS", "3")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("GIN_MODE", "weird")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.TokenTTL != time.Hour || cfg.MaxDownloads != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("warning not normalized: %q", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("invalid gin mode not coerced: %q", cfg.GinMode)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct{ key, val string }{
		{"LOG_LEVEL", "verbose"},
		{"MAX_DOWNLOADS", "0"},
		{"TOKEN_TTL", "-1h"},
		{"RATE_BURST", "0"},
		{"OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			t.Setenv(c.key, c.val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s should fail validation", c.key, c.val)
			}
		})
	}
}

func TestParseBrandRoutes(t *testing.T) {
	routes := parseBrandRoutes("aurora-=aurora, atlas-=atlas ,broken,=nodir,noprefix=")
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %v", routes)
	}
	if routes[0].Prefix != "aurora-" || routes[0].Dir != "aurora" {
		t.Fatalf("unexpected first route: %+v", routes[0])
	}
	if routes[1].Prefix != "atlas-" || routes[1].Dir != "atlas" {
		t.Fatalf("unexpected second route: %+v", routes[1])
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a ,, b ,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("splitCSV: %v", got)
	}
	if splitCSV("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
