package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName        string
	AppEnv         string
	AppPort        string
	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string
	NATSURL        string
	EventPrefix    string
	JWTSecret      string
	CORSOrigins    string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	FeedbackCacheTTL   time.Duration
	BatchLockTTL       time.Duration
	IntegrityCriterion string
	CriteriaFile       string
	UploadMaxBytes     int
	EvaluateRateLimit  int

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAITemperature float32
	OpenAIMaxTokens   int
	OpenAITimeout     time.Duration

	RetryMaxAttempts        int
	RetryInitialBackoff     time.Duration
	RetryMaxBackoff         time.Duration
	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	OracleRequestsPerMinute int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Essay API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("events.prefix", "gema.essay")
	v.SetDefault("cloudinary.folder", "gema/essay-reports")
	v.SetDefault("feedback.cache_ttl", "10m")
	v.SetDefault("evaluation.batch_lock_ttl", "30m")
	v.SetDefault("evaluation.integrity_criterion", "윤리와 성실성")
	v.SetDefault("evaluation.upload_max_bytes", 20<<20)
	v.SetDefault("evaluation.rate_limit_per_minute", 10)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.max_tokens", 4096)
	v.SetDefault("openai.timeout", "90s")
	v.SetDefault("ai.retry.max_attempts", 3)
	v.SetDefault("ai.retry.initial_backoff", "500ms")
	v.SetDefault("ai.retry.max_backoff", "4s")
	v.SetDefault("ai.breaker.enabled", true)
	v.SetDefault("ai.breaker.min_requests", 5)
	v.SetDefault("ai.breaker.failure_ratio", 0.6)
	v.SetDefault("ai.breaker.open_timeout", "30s")
	v.SetDefault("ai.requests_per_minute", 0)

	durations := map[string]time.Duration{}
	for _, key := range []string{"feedback.cache_ttl", "evaluation.batch_lock_ttl", "openai.timeout", "ai.retry.initial_backoff", "ai.retry.max_backoff", "ai.breaker.open_timeout"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		DatabaseDriver: strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),
		NATSURL:        v.GetString("nats.url"),
		EventPrefix:    v.GetString("events.prefix"),
		JWTSecret:      v.GetString("jwt.secret"),
		CORSOrigins:    v.GetString("cors.allow_origins"),

		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),

		FeedbackCacheTTL:   durations["feedback.cache_ttl"],
		BatchLockTTL:       durations["evaluation.batch_lock_ttl"],
		IntegrityCriterion: strings.TrimSpace(v.GetString("evaluation.integrity_criterion")),
		CriteriaFile:       v.GetString("evaluation.criteria_file"),
		UploadMaxBytes:     v.GetInt("evaluation.upload_max_bytes"),
		EvaluateRateLimit:  v.GetInt("evaluation.rate_limit_per_minute"),

		OpenAIAPIKey:      v.GetString("openai.api_key"),
		OpenAIBaseURL:     v.GetString("openai.base_url"),
		OpenAIModel:       v.GetString("openai.model"),
		OpenAITemperature: float32(v.GetFloat64("openai.temperature")),
		OpenAIMaxTokens:   v.GetInt("openai.max_tokens"),
		OpenAITimeout:     durations["openai.timeout"],

		RetryMaxAttempts:        v.GetInt("ai.retry.max_attempts"),
		RetryInitialBackoff:     durations["ai.retry.initial_backoff"],
		RetryMaxBackoff:         durations["ai.retry.max_backoff"],
		BreakerEnabled:          v.GetBool("ai.breaker.enabled"),
		BreakerMinRequests:      uint32(v.GetUint("ai.breaker.min_requests")),
		BreakerFailureRatio:     v.GetFloat64("ai.breaker.failure_ratio"),
		BreakerOpenTimeout:      durations["ai.breaker.open_timeout"],
		OracleRequestsPerMinute: v.GetInt("ai.requests_per_minute"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 20 << 20
	}

	return cfg, nil
}
