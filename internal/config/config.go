package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/campusfeed/pkg/config"
)

// Store backends accepted by CAMPUSFEED_STORE.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration for the campusfeed client.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"warn"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`

	// API origin; requests go to <APIURL>/api/.
	APIURL string `env:"CAMPUSFEED_API_URL" envDefault:"http://127.0.0.1:8000"`

	// HTTP transport
	HTTPTimeout    time.Duration `env:"CAMPUSFEED_HTTP_TIMEOUT" envDefault:"30s"`
	HTTPMaxRetries int           `env:"CAMPUSFEED_HTTP_MAX_RETRIES" envDefault:"2"`
	RateLimit      float64       `env:"CAMPUSFEED_RATE_LIMIT" envDefault:"0"`
	RateBurst      int           `env:"CAMPUSFEED_RATE_BURST" envDefault:"5"`

	// Background session revalidation.
	RefreshInterval time.Duration `env:"CAMPUSFEED_REFRESH_INTERVAL" envDefault:"4m"`

	// Token store
	Store     string `env:"CAMPUSFEED_STORE" envDefault:"file"`
	StorePath string `env:"CAMPUSFEED_STORE_PATH"`
	Profile   string `env:"CAMPUSFEED_PROFILE" envDefault:"default"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads an optional .env file and then the environment.
func Load(dotenv ...string) (*Config, error) {
	if err := pkgconfig.LoadDotenv(dotenv...); err != nil {
		return nil, fmt.Errorf("load campusfeed dotenv: %w", err)
	}
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load campusfeed config: %w", err)
	}
	if cfg.StorePath == "" {
		cfg.StorePath = defaultStorePath()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BaseURL returns the API root with the /api/ prefix and a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.APIURL, "/") + "/api/"
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CAMPUSFEED_API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}
	switch c.Store {
	case StoreFile, StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("CAMPUSFEED_STORE must be one of file, memory, redis, got %q", c.Store)
	}
	if c.Profile == "" || strings.ContainsAny(c.Profile, ":/\\ ") {
		return fmt.Errorf("CAMPUSFEED_PROFILE %q is not a valid profile name", c.Profile)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("CAMPUSFEED_HTTP_TIMEOUT must be positive")
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("CAMPUSFEED_HTTP_MAX_RETRIES must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("CAMPUSFEED_RATE_LIMIT must not be negative")
	}
	if c.RefreshInterval < time.Second {
		return fmt.Errorf("CAMPUSFEED_REFRESH_INTERVAL must be at least 1s, got %s", c.RefreshInterval)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "campusfeed", "session.json")
}

// MockAPIConfig holds configuration for the development backend.
type MockAPIConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	HTTPPort   int           `env:"MOCKAPI_HTTP_PORT" envDefault:"8000"`
	JWTSecret  string        `env:"MOCKAPI_JWT_SECRET" envDefault:"dev-secret-change-me"`
	AccessTTL  time.Duration `env:"MOCKAPI_ACCESS_TTL" envDefault:"5m"`
	RefreshTTL time.Duration `env:"MOCKAPI_REFRESH_TTL" envDefault:"24h"`

	// Seeded staff account able to verify students.
	AdminUsername string `env:"MOCKAPI_ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword string `env:"MOCKAPI_ADMIN_PASSWORD" envDefault:"admin-password"`

	// Students registered while this is set are verified immediately.
	AutoVerify bool `env:"MOCKAPI_AUTO_VERIFY" envDefault:"false"`

	CORSOrigins []string `env:"MOCKAPI_CORS_ORIGINS" envDefault:"*" envSeparator:","`
	PprofCIDRs  []string `env:"MOCKAPI_PPROF_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// LoadMockAPI reads the backend configuration.
func LoadMockAPI(dotenv ...string) (*MockAPIConfig, error) {
	if err := pkgconfig.LoadDotenv(dotenv...); err != nil {
		return nil, fmt.Errorf("load mockapi dotenv: %w", err)
	}
	cfg := &MockAPIConfig{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load mockapi config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *MockAPIConfig) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if len(c.JWTSecret) < 8 {
		return fmt.Errorf("MOCKAPI_JWT_SECRET must be at least 8 characters")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.AccessTTL > c.RefreshTTL {
		return fmt.Errorf("MOCKAPI_ACCESS_TTL (%s) must not exceed MOCKAPI_REFRESH_TTL (%s)", c.AccessTTL, c.RefreshTTL)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
	}
	return nil
}
