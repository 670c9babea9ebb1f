package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"supportdraft/internal/domain"
	"supportdraft/internal/search"
	"supportdraft/internal/threads"
)

const DefaultOrderPattern = `(?i)#?yeni-(\d+)`

type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	Environment string

	SlackBotToken       string
	SlackAppToken       string
	SlackChannelID      string
	SlackErrorChannelID string

	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	CompletionModel     string
	Temperature         float32

	ChannelioDeskURL string

	LogilessClientID      string
	LogilessClientSecret  string
	LogilessRefreshToken  string
	LogilessTokenEndpoint string
	LogilessAPIBaseURL    string
	LogilessMerchantID    string
	OrderPattern          string

	Search search.Config

	ThreadBackend   string
	ThreadTTL       time.Duration
	ThreadRetention time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	AMQPURL   string
	AMQPQueue string

	CallTimeout      time.Duration
	StoreRetries     int
	BackfillInterval time.Duration
}

// fileConfig is the optional TOML overlay named by CONFIG_FILE
type fileConfig struct {
	Search  *search.Config `toml:"search"`
	Threads struct {
		Backend   string `toml:"backend"`
		TTL       string `toml:"ttl"`
		Retention string `toml:"retention"`
	} `toml:"threads"`
	OrderPattern string `toml:"order_pattern"`
}

// Load reads the configuration from CONFIG_FILE (when set) and the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	cfg := &Config{
		Search:          search.DefaultConfig(),
		ThreadBackend:   "postgres",
		ThreadTTL:       threads.DefaultTTL,
		ThreadRetention: 7 * 24 * time.Hour,
		OrderPattern:    DefaultOrderPattern,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvOrDefault("PORT", "8080")
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "postgres://localhost/supportdraft?sslmode=disable")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "text")
	cfg.Environment = getEnvOrDefault("ENVIRONMENT", "development")

	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.SlackAppToken = os.Getenv("SLACK_APP_TOKEN")
	cfg.SlackChannelID = os.Getenv("SLACK_CHANNEL_ID")
	cfg.SlackErrorChannelID = os.Getenv("SLACK_ERROR_CHANNEL_ID")

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.EmbeddingModel = getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.CompletionModel = getEnvOrDefault("COMPLETION_MODEL", "gpt-4o-mini")
	cfg.ChannelioDeskURL = os.Getenv("CHANNELIO_DESK_URL")

	cfg.LogilessClientID = os.Getenv("LOGILESS_CLIENT_ID")
	cfg.LogilessClientSecret = os.Getenv("LOGILESS_CLIENT_SECRET")
	cfg.LogilessRefreshToken = os.Getenv("LOGILESS_REFRESH_TOKEN")
	cfg.LogilessTokenEndpoint = getEnvOrDefault("LOGILESS_TOKEN_ENDPOINT", "https://app2.logiless.com/api/oauth2/token")
	cfg.LogilessAPIBaseURL = getEnvOrDefault("LOGILESS_API_BASE_URL", "https://app2.logiless.com")
	cfg.LogilessMerchantID = os.Getenv("LOGILESS_MERCHANT_ID")
	cfg.OrderPattern = getEnvOrDefault("ORDER_NUMBER_PATTERN", cfg.OrderPattern)

	cfg.ThreadBackend = strings.ToLower(getEnvOrDefault("THREAD_BACKEND", cfg.ThreadBackend))
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.AMQPQueue = getEnvOrDefault("AMQP_QUEUE", "supportdraft.inquiries")

	var errs []error
	parse := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.EmbeddingDimensions, err = getEnvInt("EMBEDDING_DIMENSIONS", 1536)
	parse(err)
	cfg.RedisDB, err = getEnvInt("REDIS_DB", 0)
	parse(err)
	cfg.StoreRetries, err = getEnvInt("STORE_RETRIES", 2)
	parse(err)
	cfg.ThreadTTL, err = getEnvDuration("THREAD_TTL", cfg.ThreadTTL)
	parse(err)
	cfg.CallTimeout, err = getEnvDuration("CALL_TIMEOUT", 15*time.Second)
	parse(err)
	cfg.BackfillInterval, err = getEnvDuration("BACKFILL_INTERVAL", 10*time.Minute)
	parse(err)

	temperature, err := getEnvFloat("COMPLETION_TEMPERATURE", 0.2)
	parse(err)
	cfg.Temperature = float32(temperature)

	if cfg.Search.K, err = getEnvInt("SEARCH_K", cfg.Search.K); err != nil {
		errs = append(errs, err)
	}
	for key, dst := range map[string]*float64{
		"SEARCH_THRESHOLD_VECTOR":  &cfg.Search.ThresholdVector,
		"SEARCH_THRESHOLD_TRIGRAM": &cfg.Search.ThresholdTrigram,
		"SEARCH_WEIGHT_VECTOR":     &cfg.Search.WeightVector,
		"SEARCH_WEIGHT_TRIGRAM":    &cfg.Search.WeightTrigram,
	} {
		v, err := getEnvFloat(key, *dst)
		parse(err)
		*dst = v
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("%w: decode config file %s: %w", domain.ErrConfiguration, path, err)
	}

	if fc.Search != nil {
		c.Search = *fc.Search
	}
	if fc.Threads.Backend != "" {
		c.ThreadBackend = fc.Threads.Backend
	}
	if fc.Threads.TTL != "" {
		d, err := time.ParseDuration(fc.Threads.TTL)
		if err != nil {
			return fmt.Errorf("%w: threads.ttl: %w", domain.ErrConfiguration, err)
		}
		c.ThreadTTL = d
	}
	if fc.Threads.Retention != "" {
		d, err := time.ParseDuration(fc.Threads.Retention)
		if err != nil {
			return fmt.Errorf("%w: threads.retention: %w", domain.ErrConfiguration, err)
		}
		c.ThreadRetention = d
	}
	if fc.OrderPattern != "" {
		c.OrderPattern = fc.OrderPattern
	}
	return nil
}

// Validate reports every problem at once. The result wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string

	if c.SlackBotToken == "" {
		problems = append(problems, "SLACK_BOT_TOKEN is required")
	}

	if c.SlackChannelID == "" {
		problems = append(problems, "SLACK_CHANNEL_ID is required")
	}

	if c.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	if c.SlackBotToken != "" && !strings.HasPrefix(c.SlackBotToken, "xoxb-") {
		problems = append(problems, "SLACK_BOT_TOKEN must start with 'xoxb-'")
	}

	// Socket Mode is optional
	if c.SlackAppToken != "" && !strings.HasPrefix(c.SlackAppToken, "xapp-") {
		problems = append(problems, "SLACK_APP_TOKEN must start with 'xapp-'")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	validBackends := []string{"postgres", "redis", "memory"}
	if !contains(validBackends, c.ThreadBackend) {
		problems = append(problems, "THREAD_BACKEND must be one of: postgres, redis, memory")
	}

	if c.ThreadTTL <= 0 {
		problems = append(problems, "THREAD_TTL must be positive")
	}

	if c.CallTimeout <= 0 {
		problems = append(problems, "CALL_TIMEOUT must be positive")
	}

	if c.StoreRetries < 0 {
		problems = append(problems, "STORE_RETRIES must not be negative")
	}

	if c.EmbeddingDimensions <= 0 {
		problems = append(problems, "EMBEDDING_DIMENSIONS must be positive")
	}

	if _, err := regexp.Compile(c.OrderPattern); err != nil {
		problems = append(problems, fmt.Sprintf("ORDER_NUMBER_PATTERN is invalid: %v", err))
	}

	if err := c.Search.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}

	return nil
}

// LogilessEnabled reports whether order lookups can authenticate
func (c *Config) LogilessEnabled() bool {
	return c.LogilessClientID != "" && c.LogilessClientSecret != "" && c.LogilessRefreshToken != ""
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
