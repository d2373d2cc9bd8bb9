package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.UpdateInterval != 400*time.Millisecond {
		t.Fatalf("UpdateInterval = %v, want 400ms", cfg.UpdateInterval)
	}
	if cfg.ChunkLimit != 0 {
		t.Fatalf("ChunkLimit = %d, want 0 (splitting off)", cfg.ChunkLimit)
	}
	if cfg.ChunkMode != "length" {
		t.Fatalf("ChunkMode = %q, want %q", cfg.ChunkMode, "length")
	}
	if cfg.DupeCacheSize != 100 {
		t.Fatalf("DupeCacheSize = %d, want 100", cfg.DupeCacheSize)
	}
	if cfg.GatewayURL != "" {
		t.Fatalf("GatewayURL = %q, want empty default", cfg.GatewayURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("CHANNEL_GATEWAY_URL", "ws://gw.local:9100")
	t.Setenv("TEXT_CHUNK_LIMIT", "4000")
	t.Setenv("TEXT_CHUNK_MODE", "newline")
	t.Setenv("STREAM_UPDATE_INTERVAL", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.GatewayURL != "ws://gw.local:9100" {
		t.Fatalf("GatewayURL = %q, want explicit value", cfg.GatewayURL)
	}
	if cfg.ChunkLimit != 4000 || cfg.ChunkMode != "newline" {
		t.Fatalf("chunking = %d/%q, want 4000/newline", cfg.ChunkLimit, cfg.ChunkMode)
	}
	if cfg.UpdateInterval != 750*time.Millisecond {
		t.Fatalf("UpdateInterval = %v, want 750ms", cfg.UpdateInterval)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"TEXT_CHUNK_MODE", "words"},
		{"TEXT_CHUNK_LIMIT", "-1"},
		{"STREAM_UPDATE_INTERVAL", "0s"},
		{"STREAM_INACTIVITY_TIMEOUT", "1s"},
		{"STREAM_DUPE_CACHE_SIZE", "0"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"CHANNEL_GATEWAY_URL",
		"CHANNEL_GATEWAY_TOKEN",
		"TEXT_CHUNK_LIMIT",
		"TEXT_CHUNK_MODE",
		"STREAM_UPDATE_INTERVAL",
		"STREAM_INACTIVITY_TIMEOUT",
		"STREAM_JANITOR_INTERVAL",
		"STREAM_DUPE_CACHE_SIZE",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
