package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	BaseURL         string
	ShutdownTimeout time.Duration
}

// Log selects the slog handler.
type Log struct {
	Level  string
	Format string
}

// Serper configures the search upstream.
type Serper struct {
	APIKey          string
	URL             string
	CreditAllowance int
}

// OpenAI configures the chat completion upstream.
type OpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Audit tunes the orchestrator and its worker pool.
type Audit struct {
	BatchSize             int
	BatchDelay            time.Duration
	Workers               int
	QueueSize             int
	StrategyFailurePolicy string
}

// Store selects and configures the AuditStore backend.
type Store struct {
	Backend     string
	RedisURL    string
	RedisTTL    time.Duration
	DatabaseURL string
}

// Kafka configures audit lifecycle events. Empty Brokers disables them.
type Kafka struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Config is the full process configuration.
type Config struct {
	Server Server
	Log    Log
	Serper Serper
	OpenAI OpenAI
	Audit  Audit
	Store  Store
	Kafka  Kafka
}

// Load reads .env (when present) and then the environment.
func Load() (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}
	cfg := FromEnv()
	return cfg, cfg.Validate()
}

// loadEnvFiles loads ENV_FILE when set, otherwise .env.local and .env.
// Variables already in the environment win. Missing files are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getEnv("BRANDAUDIT_ADDR", ":8080"),
			BaseURL:         strings.TrimRight(getEnv("BASE_URL", "http://localhost:5000"), "/"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Serper: Serper{
			APIKey:          os.Getenv("SERPER_API_KEY"),
			URL:             getEnv("SERPER_URL", "https://google.serper.dev"),
			CreditAllowance: getInt("SERPER_CREDIT_ALLOWANCE", 2500),
		},
		OpenAI: OpenAI{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Timeout: getDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Audit: Audit{
			BatchSize:             getInt("AUDIT_BATCH_SIZE", 5),
			BatchDelay:            getDuration("AUDIT_BATCH_DELAY", time.Second),
			Workers:               getInt("AUDIT_WORKERS", 4),
			QueueSize:             getInt("AUDIT_QUEUE_SIZE", 64),
			StrategyFailurePolicy: getEnv("STRATEGY_FAILURE_POLICY", "fail"),
		},
		Store: Store{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			RedisURL:    os.Getenv("REDIS_URL"),
			RedisTTL:    getDuration("REDIS_AUDIT_TTL", 7*24*time.Hour),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Kafka: Kafka{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    getEnv("KAFKA_AUDIT_TOPIC", "brandaudit.audits"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "brandaudit"),
		},
	}
}

// Validate fails fast on configuration no audit could run with.
func (c Config) Validate() error {
	var errs []error
	if c.Serper.APIKey == "" {
		errs = append(errs, errors.New("SERPER_API_KEY is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Audit.BatchSize <= 0 {
		errs = append(errs, errors.New("AUDIT_BATCH_SIZE must be positive"))
	}
	if c.Audit.BatchDelay < 0 {
		errs = append(errs, errors.New("AUDIT_BATCH_DELAY must not be negative"))
	}
	if c.Audit.Workers <= 0 {
		errs = append(errs, errors.New("AUDIT_WORKERS must be positive"))
	}
	switch c.Audit.StrategyFailurePolicy {
	case "fail", "complete":
	default:
		errs = append(errs, fmt.Errorf("STRATEGY_FAILURE_POLICY must be fail or complete, got %q", c.Audit.StrategyFailurePolicy))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be memory, redis or postgres, got %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("1500ms") or plain milliseconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
