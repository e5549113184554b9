// Package config provides configuration management for the stateflow engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/stateflow/stateflow/pkg/models"
)

// Storage adapter types the engine recognises.
const (
	StorageMemory   = "MEMORY"
	StorageLocal    = "LOCAL"
	StorageRemote   = "REMOTE"
	StorageRedis    = "REDIS"
	StoragePostgres = "POSTGRES"
)

// Config holds the engine configuration.
type Config struct {
	Storage         StorageConfig
	Logging         LoggingConfig
	FailureHandling FailureHandlingConfig
	Security        SecurityConfig
	Server          ServerConfig
}

// StorageConfig selects and configures the storage adapter.
type StorageConfig struct {
	Type     string `validate:"required,oneof=MEMORY LOCAL REMOTE REDIS POSTGRES"`
	Local    LocalStorageConfig
	Remote   RemoteStorageConfig
	Redis    RedisStorageConfig
	Postgres PostgresStorageConfig
}

// LocalStorageConfig configures the file-backed adapter.
type LocalStorageConfig struct {
	Dir    string
	Prefix string
}

// RemoteStorageConfig configures the HTTP adapter.
type RemoteStorageConfig struct {
	BaseURL string `validate:"omitempty,url"`
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
}

// RedisStorageConfig configures the Redis adapter.
type RedisStorageConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// PostgresStorageConfig configures the Postgres adapter.
type PostgresStorageConfig struct {
	DSN string
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn error"`
	Format string `validate:"omitempty,oneof=json text"`
}

// FailureHandlingConfig holds the engine-wide failure defaults.
type FailureHandlingConfig struct {
	Strategy               string `validate:"omitempty,oneof=FAIL_FAST RETRY_AND_FAIL RETRY_AND_DLQ RETRY_AND_SKIP CIRCUIT_BREAKER GRACEFUL_DEGRADATION"`
	PoisonMessageThreshold int    `validate:"gte=0"`

	CircuitBreaker CircuitBreakerConfig
	DeadLetter     DeadLetterConfig
	Monitoring     MonitoringConfig
}

// CircuitBreakerConfig holds breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int           `validate:"gte=0"`
	TimeWindow       time.Duration `validate:"gte=0"`
	RecoveryTimeout  time.Duration `validate:"gte=0"`
	SuccessThreshold int           `validate:"gte=0"`
}

// DeadLetterConfig holds dead-letter defaults.
type DeadLetterConfig struct {
	Enabled         bool
	MaxRetries      int           `validate:"gte=0"`
	RetentionPeriod time.Duration `validate:"gte=0"`
}

// MonitoringConfig holds failure-monitor defaults.
type MonitoringConfig struct {
	Enabled                   bool
	MetricsCollectionInterval time.Duration `validate:"gte=0"`
	FailureRateThreshold      float64       `validate:"gte=0,lte=100"`
	AlertingEnabled           bool
	RetentionPeriod           time.Duration `validate:"gte=0"`
}

// SecurityConfig holds execution limits.
type SecurityConfig struct {
	// MaxExecutionTime is the global per-node timeout ceiling.
	MaxExecutionTime time.Duration `validate:"gte=0"`
}

// ServerConfig holds the reference storage server configuration.
type ServerConfig struct {
	Host            string
	Port            int `validate:"gte=0,lte=65535"`
	APIKeys         []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file is loaded
// first when present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Storage: StorageConfig{
			Type: getEnv("STATEFLOW_STORAGE_TYPE", StorageMemory),
			Local: LocalStorageConfig{
				Dir:    getEnv("STATEFLOW_STORAGE_DIR", "./data"),
				Prefix: getEnv("STATEFLOW_STORAGE_PREFIX", "workflow_"),
			},
			Remote: RemoteStorageConfig{
				BaseURL: getEnv("STATEFLOW_STORAGE_URL", ""),
				APIKey:  getEnv("STATEFLOW_STORAGE_API_KEY", ""),
				Timeout: getEnvDuration("STATEFLOW_STORAGE_TIMEOUT", 30*time.Second),
			},
			Redis: RedisStorageConfig{
				URL:      getEnv("STATEFLOW_REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("STATEFLOW_REDIS_PASSWORD", ""),
				DB:       getEnvInt("STATEFLOW_REDIS_DB", 0),
				PoolSize: getEnvInt("STATEFLOW_REDIS_POOL_SIZE", 10),
				Prefix:   getEnv("STATEFLOW_REDIS_PREFIX", "stateflow:workflow:"),
			},
			Postgres: PostgresStorageConfig{
				DSN: getEnv("STATEFLOW_POSTGRES_DSN", ""),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("STATEFLOW_LOG_LEVEL", "info"),
			Format: getEnv("STATEFLOW_LOG_FORMAT", "json"),
		},
		FailureHandling: FailureHandlingConfig{
			Strategy:               getEnv("STATEFLOW_FAILURE_STRATEGY", string(models.StrategyRetryAndFail)),
			PoisonMessageThreshold: getEnvInt("STATEFLOW_POISON_THRESHOLD", 10),
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: getEnvInt("STATEFLOW_CB_FAILURE_THRESHOLD", 5),
				TimeWindow:       getEnvDuration("STATEFLOW_CB_TIME_WINDOW", time.Minute),
				RecoveryTimeout:  getEnvDuration("STATEFLOW_CB_RECOVERY_TIMEOUT", 30*time.Second),
				SuccessThreshold: getEnvInt("STATEFLOW_CB_SUCCESS_THRESHOLD", 2),
			},
			DeadLetter: DeadLetterConfig{
				Enabled:         getEnvBool("STATEFLOW_DLQ_ENABLED", true),
				MaxRetries:      getEnvInt("STATEFLOW_DLQ_MAX_RETRIES", 3),
				RetentionPeriod: getEnvDuration("STATEFLOW_DLQ_RETENTION", 7*24*time.Hour),
			},
			Monitoring: MonitoringConfig{
				Enabled:                   getEnvBool("STATEFLOW_MONITORING_ENABLED", false),
				MetricsCollectionInterval: getEnvDuration("STATEFLOW_MONITORING_INTERVAL", time.Minute),
				FailureRateThreshold:      getEnvFloat("STATEFLOW_MONITORING_RATE_THRESHOLD", 50),
				AlertingEnabled:           getEnvBool("STATEFLOW_MONITORING_ALERTING", true),
				RetentionPeriod:           getEnvDuration("STATEFLOW_MONITORING_RETENTION", 24*time.Hour),
			},
		},
		Security: SecurityConfig{
			MaxExecutionTime: getEnvDuration("STATEFLOW_MAX_EXECUTION_TIME", 5*time.Minute),
		},
		Server: ServerConfig{
			Host:            getEnv("STATEFLOW_SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("STATEFLOW_SERVER_PORT", 8080),
			APIKeys:         getEnvSlice("STATEFLOW_SERVER_API_KEYS"),
			ReadTimeout:     getEnvDuration("STATEFLOW_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("STATEFLOW_SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("STATEFLOW_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Type == StorageRemote && c.Storage.Remote.BaseURL == "" {
		return &models.ValidationError{Field: "storage.remote.baseUrl", Message: "required for REMOTE storage"}
	}
	if c.Storage.Type == StoragePostgres && c.Storage.Postgres.DSN == "" {
		return &models.ValidationError{Field: "storage.postgres.dsn", Message: "required for POSTGRES storage"}
	}
	return nil
}

// FailureHandlingModel converts the config section into the engine's model form.
func (c *Config) FailureHandlingModel() *models.FailureHandlingConfig {
	fh := c.FailureHandling
	return &models.FailureHandlingConfig{
		Strategy:               models.FailureStrategy(fh.Strategy),
		PoisonMessageThreshold: fh.PoisonMessageThreshold,
		CircuitBreaker: &models.CircuitBreakerConfig{
			FailureThreshold: fh.CircuitBreaker.FailureThreshold,
			TimeWindow:       fh.CircuitBreaker.TimeWindow.Milliseconds(),
			RecoveryTimeout:  fh.CircuitBreaker.RecoveryTimeout.Milliseconds(),
			SuccessThreshold: fh.CircuitBreaker.SuccessThreshold,
		},
		DeadLetter: &models.DeadLetterConfig{
			Enabled:         fh.DeadLetter.Enabled,
			MaxRetries:      fh.DeadLetter.MaxRetries,
			RetentionPeriod: fh.DeadLetter.RetentionPeriod.Milliseconds(),
		},
		Monitoring: &models.MonitoringConfig{
			Enabled:                   fh.Monitoring.Enabled,
			MetricsCollectionInterval: fh.Monitoring.MetricsCollectionInterval.Milliseconds(),
			FailureRateThreshold:      fh.Monitoring.FailureRateThreshold,
			AlertingEnabled:           fh.Monitoring.AlertingEnabled,
			RetentionPeriod:           fh.Monitoring.RetentionPeriod.Milliseconds(),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvSlice(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
