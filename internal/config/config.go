package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	BackendURL      string
	BackendWSURL    string
	RedisAddr       string
	QueueBackend    string
	CameraStreamURL string
	CutoffHour      int
	CutoffMinute    int
	GraceMinutes    int
	AcquireTimeout  time.Duration
	SubmitTimeout   time.Duration
	PollInterval    time.Duration
	RateLimitPerMin int
}

// Load returns application config populated from environment variables with
// sensible defaults.
func Load() App {
	// Optional .env for local development; real environments set vars.
	_ = godotenv.Load()

	cfg := App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8090"),
		BackendURL:      getEnv("BACKEND_URL", "http://localhost:8000"),
		BackendWSURL:    getEnv("BACKEND_WS_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		CameraStreamURL: getEnv("CAMERA_STREAM_URL", ""),
		CutoffHour:      intEnv("CHECKIN_CUTOFF_HOUR", 8),
		CutoffMinute:    intEnv("CHECKIN_CUTOFF_MINUTE", 0),
		GraceMinutes:    intEnv("CHECKIN_GRACE_MINUTES", 15),
		AcquireTimeout:  durationEnv("ACQUIRE_TIMEOUT", 10*time.Second),
		SubmitTimeout:   durationEnv("SUBMIT_TIMEOUT", 30*time.Second),
		PollInterval:    durationEnv("STATS_POLL_INTERVAL", 60*time.Second),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 240),
	}
	if cfg.BackendWSURL == "" {
		cfg.BackendWSURL = deriveWSURL(cfg.BackendURL)
	}
	return cfg
}

// deriveWSURL maps the backend HTTP base to its websocket endpoint.
func deriveWSURL(base string) string {
	ws := base
	switch {
	case strings.HasPrefix(base, "https://"):
		ws = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		ws = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
