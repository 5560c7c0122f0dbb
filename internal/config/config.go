package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissing = errors.New("config: required variable not set")

type Server struct {
	Addr      string
	DSN       string
	JWTSecret string
	RedisAddr string
	LogLevel  string
}

type Client struct {
	APIURL         string
	LogLevel       string
	PollInterval   time.Duration
	MaxAttempts    int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	RequireContact bool
}

// LoadEnvFile loads a .env file if one is present. A missing file is not an error.
func LoadEnvFile(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadServer reads the backend settings. DB_DSN and JWT_SECRET are required.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Addr:      getenv("ADDR", ":8080"),
		DSN:       os.Getenv("DB_DSN"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: DB_DSN", ErrMissing)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET", ErrMissing)
	}
	return cfg, nil
}

// LoadClient reads the sync engine settings. Every field has a default.
func LoadClient() (*Client, error) {
	cfg := &Client{
		APIURL:   getenv("API_URL", "http://localhost:8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.Backoff, err = durationEnv("SYNC_BACKOFF", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = durationEnv("SYNC_MAX_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = intEnv("SYNC_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RequireContact, err = boolEnv("CONTACT_GATE", false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
