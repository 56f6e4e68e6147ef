package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RedisURL         string
	HTTPPort         int
	MetricsPort      int
	QuoteStream      string
	ConsumerGroup    string
	ConsumerName     string
	DeadLetterStream string
	MaxDeliveries    int64
	ClaimIdle        time.Duration
	ClaimInterval    time.Duration
	MaxWorkers       int
	BatchSize        int
	ShutdownTimeout  time.Duration
	// RoundingDigits seeds per-currency rounding rules, e.g. "JPY=0,KWD=3".
	RoundingDigits map[string]int32
}

// Load reads environment variables and application flags (via a local FlagSet),
// strips out any -test.* flags, and validates the result.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load over an explicit argument list. Commands with their own
// flags pass nil and rely on the environment.
func LoadArgs(args []string) (*Config, error) {
	// a fresh FlagSet so we don't collide with `go test` flags
	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	var (
		redisURL    string
		httpPort    int
		metricsPort int
		stream      string
	)
	fs.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis connection URL")
	fs.IntVar(&httpPort, "port", 8080, "HTTP listen port")
	fs.IntVar(&metricsPort, "metrics-port", 8082, "Metrics server port")
	fs.StringVar(&stream, "stream", getEnvOrDefault("QUOTE_STREAM", "quotes:import"), "Redis stream carrying quotes to import")

	var appArgs []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-test.") {
			continue
		}
		appArgs = append(appArgs, arg)
	}
	if err := fs.Parse(appArgs); err != nil {
		return nil, err
	}

	cfg := &Config{
		RedisURL:         redisURL,
		HTTPPort:         httpPort,
		MetricsPort:      metricsPort,
		QuoteStream:      stream,
		ConsumerGroup:    getEnvOrDefault("CONSUMER_GROUP", "finql"),
		ConsumerName:     getEnvOrDefault("CONSUMER_NAME", defaultConsumerName()),
		DeadLetterStream: getEnvOrDefault("DEAD_LETTER_STREAM", stream+":dead"),
		MaxDeliveries:    5,
		ClaimIdle:        getDurationEnvOrDefault("CLAIM_IDLE", time.Minute),
		ClaimInterval:    getDurationEnvOrDefault("CLAIM_INTERVAL", 30*time.Second),
		MaxWorkers:       8,
		BatchSize:        100,
		ShutdownTimeout:  getDurationEnvOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
		RoundingDigits:   map[string]int32{},
	}

	// PORT overrides flag/default if set
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		portVal, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT env var: %v", err)
		}
		cfg.HTTPPort = portVal
	}
	if portEnv := os.Getenv("METRICS_PORT"); portEnv != "" {
		portVal, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS_PORT env var: %v", err)
		}
		cfg.MetricsPort = portVal
	}

	if maxWorkers := os.Getenv("MAX_WORKERS"); maxWorkers != "" {
		if workers, err := strconv.Atoi(maxWorkers); err == nil {
			cfg.MaxWorkers = workers
		}
	}
	if batchSize := os.Getenv("BATCH_SIZE"); batchSize != "" {
		if size, err := strconv.Atoi(batchSize); err == nil {
			cfg.BatchSize = size
		}
	}
	if maxDeliveries := os.Getenv("MAX_DELIVERIES"); maxDeliveries != "" {
		n, err := strconv.ParseInt(maxDeliveries, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_DELIVERIES env var: %v", err)
		}
		cfg.MaxDeliveries = n
	}

	if err := cfg.loadRoundingDigits(os.Getenv("ROUNDING_DIGITS")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges of the numeric settings.
func (c *Config) Validate() error {
	for name, port := range map[string]int{"port": c.HTTPPort, "metrics port": c.MetricsPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s %d", name, port)
		}
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.QuoteStream == "" {
		return fmt.Errorf("quote stream name must not be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer name must not be empty")
	}
	if c.MaxDeliveries <= 0 {
		return fmt.Errorf("MAX_DELIVERIES must be positive, got %d", c.MaxDeliveries)
	}
	return nil
}

// RequireRedis fails for programs that cannot run without Redis.
func (c *Config) RequireRedis() error {
	if c.RedisURL == "" {
		return fmt.Errorf("missing required config: REDIS_URL or -redis")
	}
	return nil
}

func (c *Config) loadRoundingDigits(env string) error {
	for _, pair := range splitAndTrim(env, ",") {
		currency, digits, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid ROUNDING_DIGITS entry %q, want CUR=N", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 32)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid rounding digits in %q", pair)
		}
		c.RoundingDigits[strings.ToUpper(strings.TrimSpace(currency))] = int32(n)
	}
	return nil
}

// defaultConsumerName is stable across restarts so entries left pending by the
// previous run are claimed again by its successor.
func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "quoteimport"
}

// splitAndTrim splits s on sep, trims spaces, and drops empty entries.
func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, p := range strings.Split(s, sep) {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
