// Package config loads the engine's environment-variable configuration,
// following the cmd/*/main.go getEnv pattern already used throughout this
// codebase, extended with a fixed recognized-key set so a typo in an
// operator's environment fails startup instead of silently using a
// default.
package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config is every environment-variable-driven setting the engine reads.
type Config struct {
	Port     string
	DatabaseURL string
	NATSURL  string
	RedisURL string
	JWTSecret string

	LockWaitTimeout       time.Duration
	LockHoldTTL           time.Duration
	SnapshotInterval      int
	CoordinatorMaxRetries int
	CreditCapDefault      int
	AddDropDeadlineOffset time.Duration
	Timezone              string

	RateLimitMax    int
	RateLimitWindow time.Duration

	HistoryWindow time.Duration
}

// recognized is the fixed set of environment variable names this engine
// understands. Load rejects any other ENROLLMENT_-prefixed variable it
// finds set, per the engine's "unknown keys fail startup" contract.
var recognized = map[string]bool{
	"PORT": true, "DATABASE_URL": true, "NATS_URL": true, "REDIS_URL": true,
	"JWT_SECRET": true,
	"ENROLLMENT_LOCK_WAIT_TIMEOUT": true, "ENROLLMENT_LOCK_HOLD_TTL": true,
	"ENROLLMENT_SNAPSHOT_INTERVAL": true, "ENROLLMENT_COORDINATOR_MAX_RETRIES": true,
	"ENROLLMENT_CREDIT_CAP_DEFAULT": true, "ENROLLMENT_ADD_DROP_DEADLINE_OFFSET": true,
	"ENROLLMENT_TIMEZONE": true,
	"ENROLLMENT_RATE_LIMIT_MAX": true, "ENROLLMENT_RATE_LIMIT_WINDOW": true,
	"ENROLLMENT_HISTORY_WINDOW": true,
}

// ErrConfig wraps any configuration problem Load detects; cmd/enrollment-engine
// exits 64 when it sees this error, per the engine's exit-code contract.
type ErrConfig struct {
	msg string
}

func (e *ErrConfig) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) error {
	return &ErrConfig{msg: fmt.Sprintf(format, args...)}
}

// Load reads the process environment into a Config, applying defaults for
// anything unset and failing with *ErrConfig on an unrecognized
// ENROLLMENT_ variable or a malformed duration/int value.
func Load(environ []string) (Config, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, hasEq := splitEnv(kv)
		if hasEq {
			env[key] = value
		}
	}

	cfg := Config{
		Port:                  getEnv(env, "PORT", "8080"),
		DatabaseURL:           getEnv(env, "DATABASE_URL", ""),
		NATSURL:               getEnv(env, "NATS_URL", "nats://localhost:4222"),
		RedisURL:              getEnv(env, "REDIS_URL", ""),
		JWTSecret:             getEnv(env, "JWT_SECRET", ""),
		SnapshotInterval:      100,
		CoordinatorMaxRetries: 3,
		CreditCapDefault:      18,
		Timezone:              getEnv(env, "ENROLLMENT_TIMEZONE", "UTC"),
		RateLimitMax:          100,
		RateLimitWindow:       time.Minute,
		HistoryWindow:         30 * 24 * time.Hour,
	}

	var err error
	if cfg.LockWaitTimeout, err = getDuration(env, "ENROLLMENT_LOCK_WAIT_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LockHoldTTL, err = getDuration(env, "ENROLLMENT_LOCK_HOLD_TTL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AddDropDeadlineOffset, err = getDuration(env, "ENROLLMENT_ADD_DROP_DEADLINE_OFFSET", 0); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitWindow, err = getDuration(env, "ENROLLMENT_RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotInterval, err = getInt(env, "ENROLLMENT_SNAPSHOT_INTERVAL", cfg.SnapshotInterval); err != nil {
		return Config{}, err
	}
	if cfg.CoordinatorMaxRetries, err = getInt(env, "ENROLLMENT_COORDINATOR_MAX_RETRIES", cfg.CoordinatorMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.CreditCapDefault, err = getInt(env, "ENROLLMENT_CREDIT_CAP_DEFAULT", cfg.CreditCapDefault); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitMax, err = getInt(env, "ENROLLMENT_RATE_LIMIT_MAX", cfg.RateLimitMax); err != nil {
		return Config{}, err
	}
	if cfg.HistoryWindow, err = getDuration(env, "ENROLLMENT_HISTORY_WINDOW", cfg.HistoryWindow); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, configErrorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, configErrorf("JWT_SECRET is required")
	}

	for key := range env {
		if len(key) > len("ENROLLMENT_") && key[:len("ENROLLMENT_")] == "ENROLLMENT_" && !recognized[key] {
			return Config{}, configErrorf("unrecognized configuration key %s", key)
		}
	}

	return cfg, nil
}

func splitEnv(kv string) (key string, value string, hasEq bool) {
	for i, c := range kv {
		if c == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func getEnv(env map[string]string, key, fallback string) string {
	if v, ok := env[key]; ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(env map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	v, ok := env[key]
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, configErrorf("%s: invalid duration %q: %v", key, v, err)
	}
	return d, nil
}

func getInt(env map[string]string, key string, fallback int) (int, error) {
	v, ok := env[key]
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, configErrorf("%s: invalid integer %q: %v", key, v, err)
	}
	return n, nil
}
