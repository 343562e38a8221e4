package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Session   SessionConfig
	Scheduler SchedulerConfig
	TLS       TLSConfig
	Provider  ProviderConfig
	Sync      SyncConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	AllowedHosts   []string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type SessionConfig struct {
	TTL          time.Duration
	SecureCookie bool
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// ProviderConfig points at the aggregation API. An empty BaseURL means the
// provider sandbox.
type ProviderConfig struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration
	PageSize int
}

type SyncConfig struct {
	MaxAttempts        int
	RetryDelay         time.Duration
	PageTimeout        time.Duration
	MaxPagesPerAttempt int
	MaxConcurrentItems int
}

// RedisConfig enables the shared item lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// TelemetryConfig controls OpenTelemetry export. With an empty MetricsPort the
// API serves /metrics itself.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTimes := splitList(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"))
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := getDurationEnv("SESSION_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getDurationEnv("PROVIDER_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	providerPageSize, err := getIntEnv("PROVIDER_PAGE_SIZE", 100)
	if err != nil {
		return nil, err
	}

	// Parse sync engine configuration
	syncAttempts, err := getIntEnv("SYNC_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	syncRetryDelay, err := getDurationEnv("SYNC_RETRY_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	syncPageTimeout, err := getDurationEnv("SYNC_PAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	syncMaxPages, err := getIntEnv("SYNC_MAX_PAGES", 1000)
	if err != nil {
		return nil, err
	}
	syncConcurrency, err := getIntEnv("SYNC_MAX_CONCURRENT_ITEMS", 4)
	if err != nil {
		return nil, err
	}

	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	redisLockTTL, err := getDurationEnv("REDIS_LOCK_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Host:           getEnv("HOST", "0.0.0.0"),
			AllowedHosts:   splitList(getEnv("ALLOWED_HOSTS", "")),
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8080")),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finmirror"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finmirror"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Session: SessionConfig{
			TTL:          sessionTTL,
			SecureCookie: getBoolEnv("SESSION_SECURE_COOKIE", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:       schedulerEnabled,
			ScheduleTimes: schedulerTimes,
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Provider: ProviderConfig{
			BaseURL:  getEnv("PROVIDER_BASE_URL", ""),
			ClientID: getEnv("PROVIDER_CLIENT_ID", ""),
			Secret:   getEnv("PROVIDER_SECRET", ""),
			Timeout:  providerTimeout,
			PageSize: providerPageSize,
		},
		Sync: SyncConfig{
			MaxAttempts:        syncAttempts,
			RetryDelay:         syncRetryDelay,
			PageTimeout:        syncPageTimeout,
			MaxPagesPerAttempt: syncMaxPages,
			MaxConcurrentItems: syncConcurrency,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  redisLockTTL,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finmirror-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", ""),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	if cfg.Provider.BaseURL != "" && (cfg.Provider.ClientID == "" || cfg.Provider.Secret == "") {
		return nil, fmt.Errorf("PROVIDER_CLIENT_ID and PROVIDER_SECRET are required when PROVIDER_BASE_URL is set")
	}

	if cfg.Sync.MaxAttempts < 1 {
		return nil, fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Sync.RetryDelay < 0 {
		return nil, fmt.Errorf("SYNC_RETRY_DELAY must not be negative")
	}

	return cfg, nil
}

// ConnectionString prefers DATABASE_URL when it is set.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// splitList parses a comma-separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
