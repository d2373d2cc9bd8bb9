package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the stream relay service.
type Config struct {
	BindAddr                string
	ShutdownTimeout         time.Duration
	StreamInactivityTimeout time.Duration
	JanitorInterval         time.Duration
	MetricsNamespace        string

	AllowAnyOrigin bool

	GatewayURL   string
	GatewayToken string

	ChunkLimit     int
	ChunkMode      string
	UpdateInterval time.Duration
	DupeCacheSize  int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "chatstream"),
		AllowAnyOrigin:   false,
		GatewayURL:       stringsTrimSpace("CHANNEL_GATEWAY_URL"),
		GatewayToken:     stringsTrimSpace("CHANNEL_GATEWAY_TOKEN"),
		// 0 disables splitting; surfaces with hard message caps set this.
		ChunkLimit:              0,
		ChunkMode:               envOrDefault("TEXT_CHUNK_MODE", "length"),
		UpdateInterval:          400 * time.Millisecond,
		DupeCacheSize:           100,
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:         15 * time.Second,
		StreamInactivityTimeout: 2 * time.Minute,
		JanitorInterval:         5 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamInactivityTimeout, err = durationFromEnv("STREAM_INACTIVITY_TIMEOUT", cfg.StreamInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("STREAM_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.UpdateInterval, err = durationFromEnv("STREAM_UPDATE_INTERVAL", cfg.UpdateInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkLimit, err = intFromEnv("TEXT_CHUNK_LIMIT", cfg.ChunkLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.DupeCacheSize, err = intFromEnv("STREAM_DUPE_CACHE_SIZE", cfg.DupeCacheSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.ChunkMode {
	case "length", "newline":
	default:
		return Config{}, fmt.Errorf("TEXT_CHUNK_MODE must be length or newline")
	}
	if cfg.ChunkLimit < 0 {
		return Config{}, fmt.Errorf("TEXT_CHUNK_LIMIT must be >= 0")
	}
	if cfg.UpdateInterval <= 0 {
		return Config{}, fmt.Errorf("STREAM_UPDATE_INTERVAL must be positive")
	}
	if cfg.StreamInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("STREAM_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.DupeCacheSize <= 0 {
		return Config{}, fmt.Errorf("STREAM_DUPE_CACHE_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
