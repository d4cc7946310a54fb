package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/graphgate?sslmode=disable")
	t.Setenv("PREFECT_API_URL", "http://localhost:4200/graphql")

	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is serve",
			check:  func(c *Config) bool { return c.Mode == "serve" },
			expect: "serve",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8081",
			check:  func(c *Config) bool { return c.Port == 8081 },
			expect: "8081",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8081" },
			expect: "0.0.0.0:8081",
		},
		{
			name:   "cache disabled by default",
			check:  func(c *Config) bool { return !c.CacheEnable },
			expect: "false",
		},
		{
			name:   "default cache timeout is 12h",
			check:  func(c *Config) bool { return c.CacheTTL() == 12*time.Hour },
			expect: "43200s",
		},
		{
			name:   "default upstream timeout is 30s",
			check:  func(c *Config) bool { return c.UpstreamTimeout() == 30*time.Second },
			expect: "30s",
		},
		{
			name:   "default redis addr",
			check:  func(c *Config) bool { return c.RedisAddr() == "localhost:6379" },
			expect: "localhost:6379",
		},
		{
			name:   "default hash algorithm",
			check:  func(c *Config) bool { return c.PasswordHashAlgorithm == "pbkdf2_sha256" },
			expect: "pbkdf2_sha256",
		},
		{
			name:   "default hash iterations",
			check:  func(c *Config) bool { return c.PasswordHashIterations == 60000 },
			expect: "60000",
		},
		{
			name:   "default token ttl is 24h",
			check:  func(c *Config) bool { return c.TokenTTL == 24*time.Hour },
			expect: "24h",
		},
		{
			name:   "default timezone",
			check:  func(c *Config) bool { return c.Timezone == "America/Sao_Paulo" },
			expect: "America/Sao_Paulo",
		},
		{
			name:   "wildcard cors origin",
			check:  func(c *Config) bool { return len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*" },
			expect: "*",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	// t.Setenv registers the restore; Unsetenv makes the var truly absent,
	// since env treats set-but-empty as present.
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
	t.Setenv("PREFECT_API_URL", "http://localhost:4200/graphql")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestNegativeTimeoutClamped(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/graphgate?sslmode=disable")
	t.Setenv("PREFECT_API_URL", "http://localhost:4200/graphql")
	t.Setenv("CACHE_NEGATIVE_TIMEOUT", "600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CacheNegativeTimeout != 60 {
		t.Errorf("CacheNegativeTimeout = %d, want clamped to 60", cfg.CacheNegativeTimeout)
	}
	if cfg.NegativeCacheTTL() != time.Minute {
		t.Errorf("NegativeCacheTTL() = %v, want 1m", cfg.NegativeCacheTTL())
	}
}

func TestRedisAddrOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/graphgate?sslmode=disable")
	t.Setenv("PREFECT_API_URL", "http://localhost:4200/graphql")
	t.Setenv("CACHE_REDIS_HOST", "cache.internal")
	t.Setenv("CACHE_REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.RedisAddr(); got != "cache.internal:6380" {
		t.Errorf("RedisAddr() = %q, want cache.internal:6380", got)
	}
}
