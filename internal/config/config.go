package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env         string // application environment (e.g. "dev", "prod")
	Port        string // HTTP port to listen on
	StoreDriver string // mysql or memory
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	DBMigrate   bool   // apply the embedded schema on startup
	JWTSecret   string // secret used to verify JWTs
	LogLevel    string // debug, info, warn or error
	LogOutput   string // stdout, stderr or a file path
	RabbitURL   string // RabbitMQ URL; empty disables publishing and the reconcile worker

	Booking   BookingConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// BookingConfig tunes the booking engine.
type BookingConfig struct {
	LockTTL             time.Duration // lease of the per-event Redis lock
	LockWait            time.Duration // how long admission waits for the lock
	NumberAttempts      int           // checked booking numbers tried before the fallback
	CompensationTimeout time.Duration // bound on compensating writes
}

// Development reports whether the service runs in a development
// environment.
func (c Config) Development() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local":
		return true
	}
	return false
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when
// present; variables already set in the environment win.  All missing
// required variables are reported together.
func Load() (Config, error) {
	_ = godotenv.Load()

	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:         must("APP_ENV"),
		Port:        must("APP_PORT"),
		StoreDriver: strings.ToLower(envStr("STORE_DRIVER", StoreMySQL)),
		JWTSecret:   must("JWT_SECRET"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogOutput:   envStr("LOG_OUTPUT", "stdout"),
		RabbitURL:   envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		Booking: BookingConfig{
			LockTTL:             envDur("BOOKING_LOCK_TTL", 10*time.Second),
			LockWait:            envDur("BOOKING_LOCK_WAIT", 3*time.Second),
			NumberAttempts:      envInt("BOOKING_NUMBER_ATTEMPTS", 10),
			CompensationTimeout: envDur("BOOKING_COMPENSATION_TIMEOUT", 5*time.Second),
		},
		Redis:     LoadRedisConfig(),
		RateLimit: LoadRateLimitConfig(),
		Cache:     LoadCacheConfig(),
	}

	switch cfg.StoreDriver {
	case StoreMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
		cfg.DBMigrate = envBool("DB_MIGRATE", false)
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q: want %s or %s", cfg.StoreDriver, StoreMySQL, StoreMemory)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.Booking.NumberAttempts < 1 {
		cfg.Booking.NumberAttempts = 1
	}
	return cfg, nil
}
