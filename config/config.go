package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/utils"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth0         Auth0Config
	Database      DatabaseConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	AllowedOrigins  []string
}

// Auth0Config holds the tenant settings and the token acceptance policy
type Auth0Config struct {
	Domain             string
	Audiences          []string
	ClientID           string
	RefreshInterval    time.Duration `validate:"gt=0"`
	FetchTimeout       time.Duration `validate:"gt=0"`
	RetryBackoff       time.Duration `validate:"gte=0"`
	MinRefreshInterval time.Duration `validate:"gte=0"`
	Leeway             time.Duration `validate:"gte=0"`
	AllowedAlgorithms  []string      `validate:"min=1,dive,oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA"`
	SecondaryHeader    string        `validate:"required"`
	MaxSecondaryTokens int           `validate:"gte=0"`
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int `validate:"gte=0"`
	MaxIdleConns     int `validate:"gte=0"`
	ConnMaxLifetime  time.Duration
}

// AuditConfig controls the authentication event sink
type AuditConfig struct {
	Enabled     bool
	BufferSize  int `validate:"gt=0"`
	WorkerCount int `validate:"gt=0"`
	// ReadScope must be granted to list events. Empty locks the listing.
	ReadScope string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"required,oneof=json console text"`
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Auth0: Auth0Config{
			Domain:             getEnv("AUTH0_DOMAIN", ""),
			Audiences:          getEnvAsList("AUTH0_AUDIENCE", nil),
			ClientID:           getEnv("AUTH0_CLIENT_ID", ""),
			RefreshInterval:    getEnvAsDuration("AUTH0_JWKS_REFRESH_INTERVAL", auth0.DefaultRefreshInterval),
			FetchTimeout:       getEnvAsDuration("AUTH0_JWKS_FETCH_TIMEOUT", auth0.DefaultFetchTimeout),
			RetryBackoff:       getEnvAsDuration("AUTH0_JWKS_RETRY_BACKOFF", auth0.DefaultRetryBackoff),
			MinRefreshInterval: getEnvAsDuration("AUTH0_JWKS_MIN_REFRESH_INTERVAL", auth0.DefaultMinRefreshInterval),
			Leeway:             getEnvAsDuration("AUTH0_CLOCK_LEEWAY", 0),
			AllowedAlgorithms:  getEnvAsList("AUTH0_ALLOWED_ALGORITHMS", []string{"RS256"}),
			SecondaryHeader:    getEnv("AUTH0_SECONDARY_HEADER", "X-Additional-Token"),
			MaxSecondaryTokens: getEnvAsInt("AUTH0_MAX_SECONDARY_TOKENS", 8),
		},
		Database: loadDatabaseConfig(),
		Audit: AuditConfig{
			Enabled:     getEnvAsBool("AUDIT_ENABLED", false),
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKER_COUNT", 4),
			ReadScope:   getEnv("AUDIT_READ_SCOPE", "read:audit_events"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth0.Domain) == "" {
		return fmt.Errorf("missing app setting AUTH0_DOMAIN")
	}
	if len(c.Auth0.Audiences) == 0 {
		return fmt.Errorf("missing app setting AUTH0_AUDIENCE")
	}

	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	if c.Audit.Enabled && !c.Database.Configured() {
		return fmt.Errorf("audit requires a database: set DATABASE_URL or DB_HOST")
	}
	if c.Database.Configured() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Issuer returns the issuer identifier derived from the Auth0 domain
func (c *Auth0Config) Issuer() string {
	return auth0.IssuerURL(c.Domain)
}

// AcceptedAudiences returns the configured audiences plus the client id, if set.
func (c *Auth0Config) AcceptedAudiences() []string {
	audiences := append([]string(nil), c.Audiences...)
	if c.ClientID == "" {
		return audiences
	}
	for _, aud := range audiences {
		if aud == c.ClientID {
			return audiences
		}
	}
	return append(audiences, c.ClientID)
}

// Configured reports whether a database was configured at all
func (c *DatabaseConfig) Configured() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Neither set means no database.
func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return pool
	}
	pool.Host = getEnv("DB_HOST", "")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty elements
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
