package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	EDGAR  EDGARConfig  `yaml:"edgar" mapstructure:"edgar"`
	Crawl  CrawlConfig  `yaml:"crawl" mapstructure:"crawl"`
	Lookup LookupConfig `yaml:"lookup" mapstructure:"lookup"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the record cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EDGARConfig configures the transport to the SEC ownership index.
type EDGARConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// CrawlConfig configures pagination, fan-out and cache freshness.
type CrawlConfig struct {
	// PageStride is the number of rows per page served by the ownership index.
	PageStride          int    `yaml:"page_stride" mapstructure:"page_stride"`
	FetchTimeoutSecs    int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MaxPages            int    `yaml:"max_pages" mapstructure:"max_pages"`
	MaxConcurrentOwners int    `yaml:"max_concurrent_owners" mapstructure:"max_concurrent_owners"`
	DefaultLookbackDays int    `yaml:"default_lookback_days" mapstructure:"default_lookback_days"`
	TransactionType     string `yaml:"transaction_type" mapstructure:"transaction_type"`
	CacheTTLHours       int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	OwnerIndexTTLMins   int    `yaml:"owner_index_ttl_mins" mapstructure:"owner_index_ttl_mins"`
}

// FetchTimeout returns the per-page fetch timeout.
func (c CrawlConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// CacheTTL returns how long a completed crawl satisfies queries.
func (c CrawlConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// OwnerIndexTTL returns how long a fetched owner index may be reused.
func (c CrawlConfig) OwnerIndexTTL() time.Duration {
	return time.Duration(c.OwnerIndexTTLMins) * time.Minute
}

// LookupConfig configures the ticker to CIK table.
type LookupConfig struct {
	TickersPath string `yaml:"tickers_path" mapstructure:"tickers_path"`
	TickersURL  string `yaml:"tickers_url" mapstructure:"tickers_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "insider.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("edgar.base_url", "https://www.sec.gov/cgi-bin/own-disp")
	v.SetDefault("edgar.user_agent", "Sells Advisors blake@sellsadvisors.com")
	v.SetDefault("edgar.timeout_secs", 30)
	v.SetDefault("edgar.max_retries", 3)
	v.SetDefault("edgar.rate_per_sec", 10)
	v.SetDefault("crawl.page_stride", 80)
	v.SetDefault("crawl.fetch_timeout_secs", 45)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.max_concurrent_owners", 4)
	v.SetDefault("crawl.default_lookback_days", 30)
	v.SetDefault("crawl.transaction_type", "")
	v.SetDefault("crawl.cache_ttl_hours", 24)
	v.SetDefault("crawl.owner_index_ttl_mins", 60)
	v.SetDefault("lookup.tickers_path", "cik.csv")
	v.SetDefault("lookup.tickers_url", "https://www.sec.gov/files/company_tickers.json")
	v.SetDefault("server.port", 8080)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "crawl",
// "view" or "serve"; unknown modes only get the common checks.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "crawl", "serve":
		if c.EDGAR.BaseURL == "" {
			errs = append(errs, "edgar.base_url is required")
		}
		if c.EDGAR.UserAgent == "" {
			errs = append(errs, "edgar.user_agent is required")
		}
		if c.Crawl.PageStride <= 0 {
			errs = append(errs, "crawl.page_stride must be positive")
		}
		if c.Crawl.FetchTimeoutSecs <= 0 {
			errs = append(errs, "crawl.fetch_timeout_secs must be positive")
		}
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
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
