package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries the tuning knobs of the real-time core. Values come
// from the environment; zero/absent values fall back to defaults.
type Config struct {
	WSURL     string
	RedisAddr string
	CachePath string

	HeartbeatInterval    time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int
	PersistDebounce      time.Duration
	CacheTTL             time.Duration
}

func Load() Config {
	return Config{
		WSURL:     envStr("WS_URL", "wss://realtime.consultly.app/ws"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		CachePath: envStr("CACHE_PATH", "data/messages.db"),

		HeartbeatInterval:    envDuration("HEARTBEAT_INTERVAL", 25*time.Second),
		BackoffBase:          envDuration("BACKOFF_BASE", 3*time.Second),
		BackoffCap:           envDuration("BACKOFF_CAP", 30*time.Second),
		MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", 10),
		PersistDebounce:      envDuration("PERSIST_DEBOUNCE", time.Second),
		CacheTTL:             envDuration("CACHE_TTL", 24*time.Hour),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
