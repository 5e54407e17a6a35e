package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000"`
	TablePrefix string `env:"TABLE_PREFIX"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"1"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/scrapbook.db"`

	// Authentication. JWKSURL selects the JWKS verifier, otherwise JWTSecret the HMAC one.
	JWKSURL   string `env:"JWKS_URL"`
	JWTSecret string `env:"JWT_SECRET"`

	// Index synchronizer
	IndexWorkers       int           `env:"INDEX_WORKERS" envDefault:"2"`
	IndexQueueSize     int           `env:"INDEX_QUEUE_SIZE" envDefault:"256"`
	IndexMaxAttempts   int           `env:"INDEX_MAX_ATTEMPTS" envDefault:"5"`
	IndexRetryBackoff  time.Duration `env:"INDEX_RETRY_BACKOFF" envDefault:"200ms"`
	IndexRetryMaxDelay time.Duration `env:"INDEX_RETRY_MAX_DELAY" envDefault:"10s"`

	// Rendering
	PDFEngine  string        `env:"PDF_ENGINE" envDefault:"latex"`
	PDFTimeout time.Duration `env:"PDF_TIMEOUT" envDefault:"30s"`

	// Observability
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	LogDir       string `env:"LOG_DIR"`
	LogMaxFiles  int    `env:"LOG_MAX_FILES" envDefault:"10"`

	// Debug flags. Defaults to true in dev only.
	Debug *bool `env:"DEBUG"`
}

// Load parses the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.TablePrefix == "" {
		cfg.TablePrefix = getTablePrefix(cfg.Environment)
	}
	if cfg.Debug == nil {
		debug := getDefaultDebug(cfg.Environment)
		cfg.Debug = &debug
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (supported: postgres, sqlite, memory)", c.StorageDriver)
	}

	if c.IndexWorkers < 1 {
		return fmt.Errorf("INDEX_WORKERS must be at least 1")
	}
	if c.IndexMaxAttempts < 1 {
		return fmt.Errorf("INDEX_MAX_ATTEMPTS must be at least 1")
	}
	if c.Environment == "prod" && c.JWKSURL == "" && c.JWTSecret == "" {
		return fmt.Errorf("JWKS_URL or JWT_SECRET is required in prod")
	}
	return nil
}

// IsDebug reports whether debug features are enabled
func (c *Config) IsDebug() bool {
	return c.Debug != nil && *c.Debug
}

// getDefaultDebug turns debug, and with it the unauthenticated index admin
// routes, on for dev only
func getDefaultDebug(env string) bool {
	return env == "dev"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}
