package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/exking/udi-nest2-poly/internal/infrastructure/config"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("NEST_CONFIG")
	defer os.Setenv("NEST_CONFIG", originalEnv)

	os.Setenv("NEST_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	originalEnv := os.Getenv("NEST_CONFIG")
	defer os.Setenv("NEST_CONFIG", originalEnv)

	os.Unsetenv("NEST_CONFIG")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("expected default path, got %q", got)
	}

	os.Setenv("NEST_CONFIG", "/etc/nestbridge/config.yaml")
	if got := getConfigPath(); got != "/etc/nestbridge/config.yaml" {
		t.Errorf("expected env override, got %q", got)
	}
}

func TestCacheFilePath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Nest.CacheFile = "/var/lib/nestbridge/token_cache"
	if got := cacheFilePath(cfg); got != "/var/lib/nestbridge/token_cache" {
		t.Errorf("expected configured cache path, got %q", got)
	}

	cfg.Nest.CacheFile = ""
	got := cacheFilePath(cfg)
	if got == "" {
		t.Skip("no home directory in test environment")
	}
	if fileName := got[len(got)-10:]; fileName != ".nest_poly" {
		t.Errorf("expected path ending in .nest_poly, got %q", got)
	}
}
