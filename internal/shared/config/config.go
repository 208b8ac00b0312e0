package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	BackendURL      string
	BackendEmail    string
	BackendPassword string
	BackendToken    string
	BackendTimeout  time.Duration

	PollInterval time.Duration

	SessionStore     string
	DatabaseURL      string
	RedisURL         string
	SessionIdleTTL   time.Duration
	SessionSweepSpec string
	SessionRetention time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	store := normalizeSessionStore(getEnv("SESSION_STORE", "memory"))
	dbURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")

	switch {
	case store == "postgres" && dbURL == "":
		log.Printf("SESSION_STORE=postgres without DATABASE_URL, sessions are kept in memory")
	case store == "redis" && redisURL == "":
		log.Printf("SESSION_STORE=redis without REDIS_URL, sessions are kept in memory")
	}
	backendURL := getEnv("BACKEND_URL", "http://localhost:8081")
	if env == "production" && os.Getenv("BACKEND_URL") == "" {
		log.Printf("BACKEND_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		BackendURL:      backendURL,
		BackendEmail:    getEnv("BACKEND_EMAIL", ""),
		BackendPassword: getEnv("BACKEND_PASSWORD", ""),
		BackendToken:    getEnv("BACKEND_TOKEN", ""),
		BackendTimeout:  time.Duration(getInt("BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,

		PollInterval: time.Duration(getInt("POLL_INTERVAL_MS", 2000)) * time.Millisecond,

		SessionStore:     store,
		DatabaseURL:      dbURL,
		RedisURL:         redisURL,
		SessionIdleTTL:   getDuration("SESSION_IDLE_TTL", 2*time.Hour),
		SessionSweepSpec: getEnv("SESSION_SWEEP_SPEC", "@every 5m"),
		SessionRetention: getDuration("SESSION_RETENTION", 7*24*time.Hour),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 40),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		log.Printf("invalid %s=%q, using %v", key, raw, def)
		return def
	}
	return v
}

// getDuration accepts Go durations ("90m") or plain seconds.
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Printf("invalid %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeSessionStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}
