// Package config loads application configuration from file and environment
// and owns global logger initialization.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Patterns   PatternsConfig   `yaml:"patterns" mapstructure:"patterns"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the control-plane HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BudgetConfig caps paid search and AI spend.
type BudgetConfig struct {
	DailyLimitUSD     float64 `yaml:"daily_limit_usd" mapstructure:"daily_limit_usd"`
	MonthlyLimitUSD   float64 `yaml:"monthly_limit_usd" mapstructure:"monthly_limit_usd"`
	ThrottleThreshold float64 `yaml:"throttle_threshold" mapstructure:"throttle_threshold"`
	PerQueryUSD       float64 `yaml:"per_query_usd" mapstructure:"per_query_usd"`
	AILightCallUSD    float64 `yaml:"ai_light_call_usd" mapstructure:"ai_light_call_usd"`
	AIHeavyCallUSD    float64 `yaml:"ai_heavy_call_usd" mapstructure:"ai_heavy_call_usd"`
	// AIHeavyShare is the fraction of AI calls assumed to hit the heavy tier
	// when estimating run cost.
	AIHeavyShare float64 `yaml:"ai_heavy_share" mapstructure:"ai_heavy_share"`
}

// SearchConfig configures the external search backend.
type SearchConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries         int     `yaml:"retries" mapstructure:"retries"`
	RatePerSecond   float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	UseFreeTier     bool    `yaml:"use_free_tier" mapstructure:"use_free_tier"`
	BreakerFailures int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
}

// FetchConfig configures the page fetch layer.
type FetchConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyKB    int    `yaml:"max_body_kb" mapstructure:"max_body_kb"`
	MinDelayMs   int    `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs   int    `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	UseBrowser   bool   `yaml:"use_browser" mapstructure:"use_browser"`
	BrowserURL   string `yaml:"browser_url" mapstructure:"browser_url"`
	ReaderMirror bool   `yaml:"reader_mirror" mapstructure:"reader_mirror"` // fall through to the reader API when blocked
}

// DiscoveryConfig configures the discovery orchestrator.
type DiscoveryConfig struct {
	MaxWorkers      int `yaml:"max_workers" mapstructure:"max_workers"`
	MaxQueries      int `yaml:"max_queries" mapstructure:"max_queries"`
	MinSuccessRate  int `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MaxChainDepth   int `yaml:"max_chain_depth" mapstructure:"max_chain_depth"`
	MaxChainQueries int `yaml:"max_chain_queries" mapstructure:"max_chain_queries"`
}

// ExtractionConfig configures the extraction runner.
type ExtractionConfig struct {
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers"`
	MaxVenues  int `yaml:"max_venues" mapstructure:"max_venues"`
}

// ConfidenceConfig holds confidence weights. The weights are operator-tunable
// parameters, not empirically calibrated constants.
type ConfidenceConfig struct {
	SpecificMatch   int  `yaml:"specific_match" mapstructure:"specific_match"`
	GenericMatch    int  `yaml:"generic_match" mapstructure:"generic_match"`
	ReviewThreshold int  `yaml:"review_threshold" mapstructure:"review_threshold"`
	UseAIClassifier bool `yaml:"use_ai_classifier" mapstructure:"use_ai_classifier"`
}

// AnthropicConfig configures the optional AI classifier.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PatternsConfig points at the product match pattern file.
type PatternsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// Load reads configuration from ./config.yaml and VENUESCOUT_* environment
// variables, applying defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VENUESCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "venuescout.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("budget.daily_limit_usd", 50.0)
	v.SetDefault("budget.monthly_limit_usd", 800.0)
	v.SetDefault("budget.throttle_threshold", 0.8)
	v.SetDefault("budget.per_query_usd", 0.005)
	v.SetDefault("budget.ai_light_call_usd", 0.004)
	v.SetDefault("budget.ai_heavy_call_usd", 0.03)
	v.SetDefault("budget.ai_heavy_share", 0.2)

	v.SetDefault("search.base_url", "https://s.jina.ai")
	v.SetDefault("search.timeout_secs", 15)
	v.SetDefault("search.retries", 2)
	v.SetDefault("search.rate_per_second", 1.0)
	v.SetDefault("search.breaker_failures", 5)

	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_body_kb", 2048)
	v.SetDefault("fetch.min_delay_ms", 400)
	v.SetDefault("fetch.max_delay_ms", 2200)

	v.SetDefault("discovery.max_workers", 4)
	v.SetDefault("discovery.max_queries", 100)
	v.SetDefault("discovery.min_success_rate", 0)
	v.SetDefault("discovery.max_chain_depth", 2)
	v.SetDefault("discovery.max_chain_queries", 20)

	v.SetDefault("extraction.max_workers", 4)
	v.SetDefault("extraction.max_venues", 50)

	v.SetDefault("confidence.specific_match", 90)
	v.SetDefault("confidence.generic_match", 60)
	v.SetDefault("confidence.review_threshold", 70)

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

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
