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

	"github.com/upb/market-routes/services/routing"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Providers     ProvidersConfig
	Fallback      FallbackConfig
	Batch         BatchConfig
	Cache         CacheConfig
	ResolutionLog ResolutionLogConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
// The database is optional; it backs the resolution log only.
type DatabaseConfig struct {
	Enabled          bool
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ProviderSettings configures one routing provider adapter
type ProviderSettings struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ProvidersConfig holds routing provider configuration keyed by adapter name
type ProvidersConfig struct {
	Adapters map[string]ProviderSettings

	// Tiers overrides the built-in tier table, "name=tier,name=tier"
	Tiers string
}

// FallbackConfig configures the straight-line estimator
type FallbackConfig struct {
	SpeedKmh     float64
	DetourFactor float64
	Tier         int
}

// BatchConfig holds the default batch pacing
type BatchConfig struct {
	ChunkSize       int
	InterChunkDelay time.Duration
}

// CacheConfig configures the in-process route cache
type CacheConfig struct {
	Enabled   bool
	MaxSize   int
	TTL       time.Duration
	Precision uint
}

// ResolutionLogConfig configures the asynchronous resolution log writer
type ResolutionLogConfig struct {
	BufferSize   int
	WorkerCount  int
	WriteTimeout time.Duration
	Retention    time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// providerEnv describes how an adapter is configured from the environment.
// Keyless adapters are enabled by default, keyed ones once a key is present.
type providerEnv struct {
	name    string
	prefix  string
	keyVar  string
	keyless bool
}

var providerEnvs = []providerEnv{
	{name: "google", prefix: "GOOGLE", keyVar: "GOOGLE_MAPS_API_KEY"},
	{name: "mapbox", prefix: "MAPBOX", keyVar: "MAPBOX_ACCESS_TOKEN"},
	{name: "here", prefix: "HERE", keyVar: "HERE_API_KEY"},
	{name: "tomtom", prefix: "TOMTOM", keyVar: "TOMTOM_API_KEY"},
	{name: "openrouteservice", prefix: "ORS", keyVar: "ORS_API_KEY"},
	{name: "graphhopper", prefix: "GRAPHHOPPER", keyVar: "GRAPHHOPPER_API_KEY"},
	{name: "valhalla", prefix: "VALHALLA", keyless: true},
	{name: "osrm", prefix: "OSRM", keyless: true},
}

// ProviderNames returns the adapter names in their default attempt order
func ProviderNames() []string {
	names := make([]string, len(providerEnvs))
	for i, p := range providerEnvs {
		names[i] = p.name
	}
	return names
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 110*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
		Database: loadDatabaseConfig(),
		Providers: ProvidersConfig{
			Adapters: loadProviderSettings(),
			Tiers:    getEnv("PROVIDER_TIERS", ""),
		},
		Fallback: FallbackConfig{
			SpeedKmh:     getEnvAsFloat("FALLBACK_SPEED_KMH", routing.DefaultFallbackSpeedKmh),
			DetourFactor: getEnvAsFloat("FALLBACK_DETOUR_FACTOR", routing.DefaultDetourFactor),
			Tier:         getEnvAsInt("FALLBACK_TIER", routing.DefaultFallbackTier),
		},
		Batch: BatchConfig{
			ChunkSize:       getEnvAsInt("BATCH_CHUNK_SIZE", 3),
			InterChunkDelay: getEnvAsDuration("BATCH_INTER_CHUNK_DELAY", time.Second),
		},
		Cache: CacheConfig{
			Enabled:   getEnvAsBool("ROUTE_CACHE_ENABLED", true),
			MaxSize:   getEnvAsInt("ROUTE_CACHE_SIZE", 10000),
			TTL:       getEnvAsDuration("ROUTE_CACHE_TTL", 15*time.Minute),
			Precision: uint(getEnvAsInt("ROUTE_CACHE_PRECISION", 8)),
		},
		ResolutionLog: ResolutionLogConfig{
			BufferSize:   getEnvAsInt("RESOLUTION_LOG_BUFFER", 1000),
			WorkerCount:  getEnvAsInt("RESOLUTION_LOG_WORKERS", 2),
			WriteTimeout: getEnvAsDuration("RESOLUTION_LOG_WRITE_TIMEOUT", 5*time.Second),
			Retention:    getEnvAsDuration("RESOLUTION_LOG_RETENTION", 30*24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.Enabled && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	for name, p := range c.Providers.Adapters {
		if p.Timeout <= 0 {
			return fmt.Errorf("provider %s: timeout must be positive", name)
		}
	}

	if c.Fallback.SpeedKmh <= 0 {
		return fmt.Errorf("fallback speed must be positive, got %v", c.Fallback.SpeedKmh)
	}
	if c.Fallback.DetourFactor <= 0 {
		return fmt.Errorf("fallback detour factor must be positive, got %v", c.Fallback.DetourFactor)
	}
	if c.Fallback.Tier < 1 || c.Fallback.Tier > 100 {
		return fmt.Errorf("fallback tier must be between 1 and 100, got %d", c.Fallback.Tier)
	}

	if c.Batch.ChunkSize < 1 {
		return fmt.Errorf("batch chunk size must be at least 1, got %d", c.Batch.ChunkSize)
	}
	if c.Batch.InterChunkDelay < 0 {
		return fmt.Errorf("batch inter-chunk delay cannot be negative")
	}

	if c.Cache.Enabled {
		if c.Cache.MaxSize < 1 {
			return fmt.Errorf("route cache size must be at least 1")
		}
		if c.Cache.Precision < 1 || c.Cache.Precision > 12 {
			return fmt.Errorf("route cache precision must be between 1 and 12, got %d", c.Cache.Precision)
		}
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// EnabledProviders returns the settings of enabled adapters only
func (c *ProvidersConfig) EnabledProviders() map[string]ProviderSettings {
	enabled := make(map[string]ProviderSettings)
	for name, p := range c.Adapters {
		if p.Enabled {
			enabled[name] = p
		}
	}
	return enabled
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
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
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Neither set leaves the database disabled.
func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.Enabled = true
		pool.ConnectionString = dbURL
		return pool
	}

	host := getEnv("DB_HOST", "")
	if host == "" {
		return pool
	}
	pool.Enabled = true
	pool.Host = host
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "routes")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "routes")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// loadProviderSettings reads <PREFIX>_ENABLED, <PREFIX>_BASE_URL and
// <PREFIX>_TIMEOUT plus the adapter's key variable
func loadProviderSettings() map[string]ProviderSettings {
	defaultTimeout := getEnvAsDuration("PROVIDER_TIMEOUT", 5*time.Second)

	settings := make(map[string]ProviderSettings, len(providerEnvs))
	for _, p := range providerEnvs {
		s := ProviderSettings{
			BaseURL: getEnv(p.prefix+"_BASE_URL", ""),
			Timeout: getEnvAsDuration(p.prefix+"_TIMEOUT", defaultTimeout),
		}
		if p.keyVar != "" {
			s.APIKey = getEnv(p.keyVar, "")
		}
		s.Enabled = getEnvAsBool(p.prefix+"_ENABLED", p.keyless || s.APIKey != "")
		settings[p.name] = s
	}
	return settings
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 3000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 3000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
