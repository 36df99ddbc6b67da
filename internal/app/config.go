package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (COUPONS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (COUPONS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Redis        RedisConfig
	Engine       EngineConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// RedisConfig points at the idempotency store. An empty Addr disables
// idempotent replay.
type RedisConfig struct {
	Addr           string        `default:"" usage:"Redis address for idempotency keys"`
	Password       string        `default:"" usage:"Redis password"`
	DB             int           `default:"0" usage:"Redis database number"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long completed responses are replayed" flag:"idempotency-ttl"`
}

// EngineConfig tunes coupon evaluation.
type EngineConfig struct {
	LookupTimeout time.Duration `default:"2s" usage:"Timeout of each customer segment lookup" flag:"lookup-timeout"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client"`
	Burst int     `default:"40" usage:"Maximum burst per client"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "COUPONS",
		Files:     []string{"config.yaml", "/etc/coupons/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set COUPONS_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's COUPONS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
