package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/industry-data-aggregation/internal/cache"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
	"github.com/i474232898/industry-data-aggregation/internal/industry/providers"
)

// EnvPrefix prefixes every environment override, e.g. INDUSTRY_SERVER_PORT.
const EnvPrefix = "INDUSTRY"

// AppConfig is the full service configuration.
type AppConfig struct {
	Server    ServerConfig            `mapstructure:"server"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Cache     CacheConfig             `mapstructure:"cache"`
	Search    SearchConfig            `mapstructure:"search"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig sets the TTL per outcome and the optional Redis tier.
type CacheConfig struct {
	SuccessTTL time.Duration `mapstructure:"success_ttl"`
	EmptyTTL   time.Duration `mapstructure:"empty_ttl"`
	ErrorTTL   time.Duration `mapstructure:"error_ttl"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SearchConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	Deadline       time.Duration `mapstructure:"deadline"`
	DefaultLimit   int           `mapstructure:"default_limit"`
	MaxLimit       int           `mapstructure:"max_limit"`
}

// SchedulerConfig controls periodic cache warming.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// Warm lists dataset queries refreshed on every run.
	Warm []WarmQuery `mapstructure:"warm"`
}

type WarmQuery struct {
	Source      string `mapstructure:"source"`
	Dataflow    string `mapstructure:"dataflow"`
	Key         string `mapstructure:"key"`
	StartPeriod string `mapstructure:"start_period"`
	EndPeriod   string `mapstructure:"end_period"`
}

// SourceConfig is the per-adapter section, keyed by source id.
type SourceConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	AltBaseURL  string        `mapstructure:"alt_base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DailyQuota  int           `mapstructure:"daily_quota"`
	DefaultYear string        `mapstructure:"default_year"`
}

// Load reads .env, then the YAML file at path (or config.yaml in the working
// directory or ./configs when path is empty), then INDUSTRY_* environment
// overrides. A missing default config file is not an error.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyKeyFallbacks(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	policy := cache.DefaultPolicy()
	v.SetDefault("cache.success_ttl", policy.Success.String())
	v.SetDefault("cache.empty_ttl", policy.Empty.String())
	v.SetDefault("cache.error_ttl", policy.Error.String())
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "industry:")

	search := industry.DefaultServiceConfig()
	v.SetDefault("search.max_concurrency", search.MaxConcurrency)
	v.SetDefault("search.call_timeout", search.CallTimeout.String())
	v.SetDefault("search.deadline", search.Deadline.String())
	v.SetDefault("search.default_limit", search.DefaultLimit)
	v.SetDefault("search.max_limit", search.MaxLimit)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "6h")

	for _, id := range providers.IDs() {
		prefix := "sources." + id + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"alt_base_url", "")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"timeout", "15s")
		v.SetDefault(prefix+"daily_quota", 0)
		v.SetDefault(prefix+"default_year", "")
	}
}

// applyKeyFallbacks fills empty API keys from the conventional variables
// (CENSUS_API_KEY, BLS_API_KEY, FRED_API_KEY, ...).
func applyKeyFallbacks(cfg *AppConfig) {
	for id, sc := range cfg.Sources {
		if sc.APIKey != "" {
			continue
		}
		if key := os.Getenv(strings.ToUpper(id) + "_API_KEY"); key != "" {
			sc.APIKey = key
			cfg.Sources[id] = sc
		}
	}
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port is required")
	}
	if err := c.TTLPolicy().Validate(); err != nil {
		return err
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit (%d) exceeds search.max_limit (%d)", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" {
		return errors.New("cache.redis.addr is required when redis is enabled")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	for id := range c.Sources {
		if !known(id) {
			return fmt.Errorf("sources.%s: unknown source (known: %s)", id, strings.Join(providers.IDs(), ", "))
		}
	}
	for i, w := range c.Scheduler.Warm {
		if w.Source == "" || w.Dataflow == "" {
			return fmt.Errorf("scheduler.warm[%d]: source and dataflow are required", i)
		}
	}
	return nil
}

func known(id string) bool {
	for _, k := range providers.IDs() {
		if k == id {
			return true
		}
	}
	return false
}

// TTLPolicy is the cache policy described by the cache section.
func (c *AppConfig) TTLPolicy() cache.TTLPolicy {
	return cache.TTLPolicy{Success: c.Cache.SuccessTTL, Empty: c.Cache.EmptyTTL, Error: c.Cache.ErrorTTL}
}

// ServiceConfig is the orchestrator configuration.
func (c *AppConfig) ServiceConfig() industry.ServiceConfig {
	return industry.ServiceConfig{
		MaxConcurrency: c.Search.MaxConcurrency,
		CallTimeout:    c.Search.CallTimeout,
		Deadline:       c.Search.Deadline,
		DefaultLimit:   c.Search.DefaultLimit,
		MaxLimit:       c.Search.MaxLimit,
	}
}

// EnabledSources lists enabled source ids in sorted order.
func (c *AppConfig) EnabledSources() []string {
	var out []string
	for _, id := range providers.IDs() {
		if sc, ok := c.Sources[id]; ok && sc.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// ProviderConfig converts a source section into adapter settings.
func (s SourceConfig) ProviderConfig() providers.Config {
	return providers.Config{
		BaseURL:     s.BaseURL,
		AltBaseURL:  s.AltBaseURL,
		APIKey:      s.APIKey,
		Timeout:     s.Timeout,
		DailyQuota:  s.DailyQuota,
		DefaultYear: s.DefaultYear,
		HTTP:        providers.HTTPClientConfig{Backoff: providers.DefaultBackoff()},
	}
}
