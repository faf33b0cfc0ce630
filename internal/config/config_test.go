package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOCFLOW_DATA_DIR", t.TempDir())

	cfg := Load()
	if cfg.Backend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Backend)
	}
	if cfg.EmbedProvider != "hash" {
		t.Errorf("embed provider = %q, want hash", cfg.EmbedProvider)
	}
	if cfg.PoolSize != 10 {
		t.Errorf("pool size = %d, want 10", cfg.PoolSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %s, want 500ms", cfg.PollInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCFLOW_DATA_DIR", t.TempDir())
	t.Setenv("DOCFLOW_BACKEND", "badger")
	t.Setenv("DOCFLOW_POOL_SIZE", "4")
	t.Setenv("DOCFLOW_POLL_INTERVAL", "2s")
	t.Setenv("DOCFLOW_LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.Backend != "badger" {
		t.Errorf("backend = %q, want badger", cfg.Backend)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("pool size = %d, want 4", cfg.PoolSize)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %s, want 2s", cfg.PollInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.LogLevel)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("hello", "key", "value")

	if !strings.Contains(stderr.String(), "hello") {
		t.Errorf("stderr output missing message: %q", stderr.String())
	}
	if !strings.Contains(file.String(), `"msg":"hello"`) {
		t.Errorf("file output is not JSON: %q", file.String())
	}
}
