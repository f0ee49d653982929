package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fetch strategy names. The zenrows strategy issues one request to the
// ZenRows rendering API; the session strategy drives a full browser with a
// persistent region profile.
const (
	FetchStrategyZenRows = "zenrows"
	FetchStrategySession = "session"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Fetch     FetchConfig
	Pacing    PacingConfig
	AntiBlock AntiBlockConfig
	Scheduler SchedulerConfig
	Runner    RunnerConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
	MinConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type FetchConfig struct {
	Strategy      string
	Timeout       time.Duration
	ZenRowsAPIKey string
	Headless      bool
	HomeURL       string
}

// PacingConfig bounds the randomized delay issued between consecutive
// targets in a run.
type PacingConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

type AntiBlockConfig struct {
	MaxAttempts int
	WaitMin     time.Duration
	WaitMax     time.Duration
}

type SchedulerConfig struct {
	Enabled   bool
	HourUTC   int
	MinuteUTC int
}

type RunnerConfig struct {
	MaxConcurrentRuns int
	RegionRoot        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	strategy := getEnvOrDefault("FETCH_STRATEGY", FetchStrategyZenRows)

	// Pacing defaults depend on the fetch strategy: the rendering API is
	// cheap to call, a full browser session has to look like a person.
	pacingMin, pacingMax := 5*time.Second, 15*time.Second
	if strategy == FetchStrategySession {
		pacingMin, pacingMax = 45*time.Second, 120*time.Second
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "pricewatch"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns: int32(getIntOrDefault("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Fetch: FetchConfig{
			Strategy:      strategy,
			Timeout:       getDurationOrDefault("FETCH_TIMEOUT", 60*time.Second),
			ZenRowsAPIKey: getEnvOrDefault("ZENROWS_API_KEY", ""),
			Headless:      getBoolOrDefault("BROWSER_HEADLESS", true),
			HomeURL:       getEnvOrDefault("FETCH_HOME_URL", "https://www.ozon.ru/"),
		},
		Pacing: PacingConfig{
			MinDelay: getDurationOrDefault("MIN_DELAY", pacingMin),
			MaxDelay: getDurationOrDefault("MAX_DELAY", pacingMax),
		},
		AntiBlock: AntiBlockConfig{
			MaxAttempts: getIntOrDefault("ANTIBLOCK_MAX_ATTEMPTS", 6),
			WaitMin:     getDurationOrDefault("ANTIBLOCK_WAIT_MIN", 15*time.Second),
			WaitMax:     getDurationOrDefault("ANTIBLOCK_WAIT_MAX", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getBoolOrDefault("SCHEDULE_ENABLED", true),
			HourUTC:   getIntOrDefault("SCHEDULE_HOUR_UTC", 1),
			MinuteUTC: getIntOrDefault("SCHEDULE_MINUTE_UTC", 0),
		},
		Runner: RunnerConfig{
			MaxConcurrentRuns: getIntOrDefault("MAX_CONCURRENT_RUNS", 1),
			RegionRoot:        getEnvOrDefault("REGION_ROOT", "./data/regions"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Fetch.Strategy {
	case FetchStrategyZenRows:
		if c.Fetch.ZenRowsAPIKey == "" {
			return fmt.Errorf("ZENROWS_API_KEY is required for the zenrows fetch strategy")
		}
	case FetchStrategySession:
	default:
		return fmt.Errorf("unknown FETCH_STRATEGY %q", c.Fetch.Strategy)
	}

	if c.Runner.MaxConcurrentRuns < 1 {
		return fmt.Errorf("MAX_CONCURRENT_RUNS must be at least 1")
	}

	if c.Pacing.MinDelay > c.Pacing.MaxDelay {
		return fmt.Errorf("MIN_DELAY cannot be greater than MAX_DELAY")
	}

	if c.AntiBlock.WaitMin > c.AntiBlock.WaitMax {
		return fmt.Errorf("ANTIBLOCK_WAIT_MIN cannot be greater than ANTIBLOCK_WAIT_MAX")
	}

	if c.Scheduler.HourUTC < 0 || c.Scheduler.HourUTC > 23 {
		return fmt.Errorf("SCHEDULE_HOUR_UTC must be in [0,23]")
	}
	if c.Scheduler.MinuteUTC < 0 || c.Scheduler.MinuteUTC > 59 {
		return fmt.Errorf("SCHEDULE_MINUTE_UTC must be in [0,59]")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Plain integers are treated as seconds, matching the old env files.
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
