package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Credits    CreditsConfig    `yaml:"credits" mapstructure:"credits"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Poller     PollerConfig     `yaml:"poller" mapstructure:"poller"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the generation lock backend. An empty Addr selects
// the in-process lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ProvidersConfig configures the enrichment providers and their fallback order.
type ProvidersConfig struct {
	Order     []string          `yaml:"order" mapstructure:"order"`
	OrderFile string            `yaml:"order_file" mapstructure:"order_file"`
	Apollo    ProviderAPIConfig `yaml:"apollo" mapstructure:"apollo"`
	Lusha     ProviderAPIConfig `yaml:"lusha" mapstructure:"lusha"`
	Website   WebsiteConfig     `yaml:"website" mapstructure:"website"`
}

// ProviderAPIConfig holds credentials for a paid lookup provider.
type ProviderAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// WebsiteConfig configures the contact-page scraper provider.
type WebsiteConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds outreach writer settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	// BaseURL overrides the API host, e.g. for a gateway or proxy.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CreditsConfig toggles credit enforcement.
type CreditsConfig struct {
	Enforce bool `yaml:"enforce" mapstructure:"enforce"`
}

// GenerationConfig configures the orchestrator and the server-side lock.
type GenerationConfig struct {
	BulkDelayMs         int `yaml:"bulk_delay_ms" mapstructure:"bulk_delay_ms"`
	ReconcileWindowSecs int `yaml:"reconcile_window_secs" mapstructure:"reconcile_window_secs"`
	LockTTLSecs         int `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// BulkDelay returns the pause between bulk requests.
func (g GenerationConfig) BulkDelay() time.Duration {
	return time.Duration(g.BulkDelayMs) * time.Millisecond
}

// ReconcileWindow returns how long a persisted start marker counts as in flight.
func (g GenerationConfig) ReconcileWindow() time.Duration {
	return time.Duration(g.ReconcileWindowSecs) * time.Second
}

// LockTTL returns the lifetime of a per-key generation lock.
func (g GenerationConfig) LockTTL() time.Duration {
	return time.Duration(g.LockTTLSecs) * time.Second
}

// PollerConfig configures the enrichment status poller.
type PollerConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// Interval returns the poll interval.
func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSecs) * time.Second
}

// APIConfig points the CLI orchestrator at a running dashboard API.
type APIConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	UserID  string `yaml:"user_id" mapstructure:"user_id"`
}

// ResilienceConfig tunes retries and circuit breakers for provider calls.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PricingConfig holds per-lookup provider pricing in USD.
type PricingConfig struct {
	ApolloPerLookup  float64 `yaml:"apollo_per_lookup" mapstructure:"apollo_per_lookup"`
	LushaPerLookup   float64 `yaml:"lusha_per_lookup" mapstructure:"lusha_per_lookup"`
	WebsitePerLookup float64 `yaml:"website_per_lookup" mapstructure:"website_per_lookup"`
}

// Load reads configuration from .env, config.yaml and OUTREACH_* variables.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("providers.order", []string{"apollo", "lusha", "website"})
	v.SetDefault("providers.order_file", "")
	v.SetDefault("providers.apollo.key", "")
	v.SetDefault("providers.apollo.base_url", "https://api.apollo.io/api")
	v.SetDefault("providers.lusha.key", "")
	v.SetDefault("providers.lusha.base_url", "https://api.lusha.com")
	v.SetDefault("providers.website.enabled", true)
	v.SetDefault("providers.website.timeout_secs", 10)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("credits.enforce", true)
	v.SetDefault("generation.bulk_delay_ms", 1000)
	v.SetDefault("generation.reconcile_window_secs", 60)
	v.SetDefault("generation.lock_ttl_secs", 90)
	v.SetDefault("poller.interval_secs", 5)
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.user_id", "")
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 250)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("pricing.apollo_per_lookup", 0.03)
	v.SetDefault("pricing.lusha_per_lookup", 0.05)
	v.SetDefault("pricing.website_per_lookup", 0.0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Providers.OrderFile != "" {
		order, err := LoadProviderOrder(cfg.Providers.OrderFile)
		if err != nil {
			return nil, err
		}
		cfg.Providers.Order = order
	}

	return &cfg, nil
}

type providerOrderFile struct {
	Order []string `yaml:"order"`
}

// LoadProviderOrder reads a YAML file of the form "order: [apollo, lusha]"
// that overrides the configured fallback order.
func LoadProviderOrder(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read provider order %s", path)
	}
	var f providerOrderFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse provider order %s", path)
	}
	if len(f.Order) == 0 {
		return nil, eris.Errorf("config: provider order %s is empty", path)
	}
	out := make([]string, 0, len(f.Order))
	for _, name := range f.Order {
		if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// Validate checks the settings a command needs. mode is one of "serve",
// "migrate" or "client".
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "serve", "migrate":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "client":
		if c.API.BaseURL == "" {
			errs = append(errs, "api.base_url is required")
		}
		if c.API.UserID == "" {
			errs = append(errs, "api.user_id is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if c.Generation.BulkDelayMs < 0 {
		errs = append(errs, "generation.bulk_delay_ms must be >= 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
