package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all gateway configuration, read from environment variables.
type Config struct {
	Mode string `env:"APP_MODE" envDefault:"serve"`

	// Server
	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8081"`

	// Database
	DatabaseURL   string `env:"DATABASE_URL,required"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Upstream GraphQL backend
	PrefectAPIURL   string `env:"PREFECT_API_URL,required"`
	RequestsTimeout int    `env:"REQUESTS_DEFAULT_TIMEOUT" envDefault:"30"`

	// Cache
	CacheEnable          bool   `env:"CACHE_ENABLE" envDefault:"false"`
	CacheRedisURL        string `env:"CACHE_REDIS_URL"`
	CacheRedisHost       string `env:"CACHE_REDIS_HOST" envDefault:"localhost"`
	CacheRedisPort       int    `env:"CACHE_REDIS_PORT" envDefault:"6379"`
	CacheRedisPassword   string `env:"CACHE_REDIS_PASSWORD"`
	CacheRedisDB         int    `env:"CACHE_REDIS_DB" envDefault:"0"`
	CacheDefaultTimeout  int    `env:"CACHE_DEFAULT_TIMEOUT" envDefault:"43200"`
	CacheNegativeTimeout int    `env:"CACHE_NEGATIVE_TIMEOUT" envDefault:"60"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	AllowedMethods   []string `env:"ALLOWED_METHODS" envDefault:"*" envSeparator:","`
	AllowedHeaders   []string `env:"ALLOWED_HEADERS" envDefault:"*" envSeparator:","`
	AllowCredentials bool     `env:"ALLOW_CREDENTIALS" envDefault:"true"`

	// Auth
	PasswordHashAlgorithm  string        `env:"PASSWORD_HASH_ALGORITHM" envDefault:"pbkdf2_sha256"`
	PasswordHashIterations int           `env:"PASSWORD_HASH_ITERATIONS" envDefault:"60000"`
	TokenTTL               time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	Timezone               string        `env:"TIMEZONE" envDefault:"America/Sao_Paulo"`

	// Login rate limiting
	LoginRateLimit  int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`

	// Seed (mode=seed)
	AdminUsername  string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword  string `env:"ADMIN_PASSWORD"`
	SeedTenantSlug string `env:"SEED_TENANT_SLUG"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	// Negative oracle verdicts must not outlive a minute, or a freshly
	// created entity stays invisible until the cache expires.
	if cfg.CacheNegativeTimeout > 60 {
		cfg.CacheNegativeTimeout = 60
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisAddr returns the host:port pair for the cache, used when
// CACHE_REDIS_URL is not set.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.CacheRedisHost, c.CacheRedisPort)
}

// UpstreamTimeout is the HTTP client timeout for upstream calls.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.RequestsTimeout) * time.Second
}

// CacheTTL is the default expiry for cache entries.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheDefaultTimeout) * time.Second
}

// NegativeCacheTTL is the expiry for negative oracle verdicts.
func (c *Config) NegativeCacheTTL() time.Duration {
	return time.Duration(c.CacheNegativeTimeout) * time.Second
}
