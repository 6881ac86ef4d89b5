package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/reviewengine/internal/database"
	"github.com/example/reviewengine/internal/logging"
)

// Interval policies
const (
	PolicySM2    = "sm2"
	PolicyLadder = "ladder"
)

// Config is the full runtime configuration
type Config struct {
	Database database.Config
	Log      logging.Config

	// Batch size when a caller doesn't ask for one
	DefaultLimit int
	// "sm2" grows intervals by ease, "ladder" uses a fixed table
	IntervalPolicy string
	// Upper bound for intervals in days
	MaxIntervalDays int
	// Compare-and-swap saves instead of last-write-wins
	VersionedSaves bool

	// Idle time after which a review session is dropped
	SessionTTL time.Duration
	// How often idle sessions are swept
	SweepInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		Database: database.Config{
			Type: database.DialectSQLite,
			Path: "data/reviews.db",
		},
		Log: logging.Config{
			Level:   "info",
			Console: true,
		},
		DefaultLimit:    20,
		IntervalPolicy:  PolicySM2,
		MaxIntervalDays: 36500,
		SessionTTL:      2 * time.Hour,
		SweepInterval:   10 * time.Minute,
	}
}

// Load reads .env files (if present) into the environment and builds the
// configuration from it. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("DB_TYPE"); v != "" {
		cfg.Database.Type = strings.ToLower(v)
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	var err error
	if cfg.Log.Console, err = envBool("LOG_CONSOLE", cfg.Log.Console); err != nil {
		return nil, err
	}
	if cfg.DefaultLimit, err = envInt("SRS_DEFAULT_LIMIT", cfg.DefaultLimit); err != nil {
		return nil, err
	}
	if cfg.MaxIntervalDays, err = envInt("SRS_MAX_INTERVAL_DAYS", cfg.MaxIntervalDays); err != nil {
		return nil, err
	}
	if cfg.VersionedSaves, err = envBool("SRS_VERSIONED_SAVES", cfg.VersionedSaves); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SESSION_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if v := os.Getenv("SRS_INTERVAL_POLICY"); v != "" {
		cfg.IntervalPolicy = strings.ToLower(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch c.Database.Type {
	case database.DialectSQLite, database.DialectPostgres:
	default:
		return fmt.Errorf("DB_TYPE must be sqlite or postgres, got %q", c.Database.Type)
	}
	if c.Database.Type == database.DialectPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for postgres")
	}
	switch c.IntervalPolicy {
	case PolicySM2, PolicyLadder:
	default:
		return fmt.Errorf("SRS_INTERVAL_POLICY must be sm2 or ladder, got %q", c.IntervalPolicy)
	}
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("SRS_DEFAULT_LIMIT must be positive")
	}
	if c.MaxIntervalDays <= 0 {
		return fmt.Errorf("SRS_MAX_INTERVAL_DAYS must be positive")
	}
	if c.SessionTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
