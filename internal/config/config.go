// Package config loads application configuration from a YAML file with
// environment variable overrides. Operational knobs (API keys, cache
// sizing, provider cooldowns) bind to flat environment names so they can
// be set without a config file at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Prices     PricesConfig     `mapstructure:"prices"`
	LLMCache   LLMCacheConfig   `mapstructure:"llm_cache"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// OpenAIConfig holds the primary LLM provider settings.
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
	SystemPrompt    string `mapstructure:"system_prompt"`
}

// OpenRouterConfig holds the secondary LLM provider settings.
type OpenRouterConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	SiteURL   string `mapstructure:"site_url"`
	SiteName  string `mapstructure:"site_name"`
}

// PricesConfig holds market-data cache sizing and provider cooldowns.
// All durations are milliseconds, matching the environment variables.
type PricesConfig struct {
	CacheTTLMS           int `mapstructure:"cache_ttl_ms"`
	CacheMaxEntries      int `mapstructure:"cache_max_entries"`
	MaxSymbolsPerRequest int `mapstructure:"max_symbols_per_request"`
	HistoryTTLMS         int `mapstructure:"history_ttl_ms"`
	HistoryMaxEntries    int `mapstructure:"history_max_entries"`
	IntradayTTLMS        int `mapstructure:"intraday_ttl_ms"`
	IntradayMaxEntries   int `mapstructure:"intraday_max_entries"`
	IntradayLookbackMS   int `mapstructure:"intraday_lookback_ms"`
	SearchTTLMS          int `mapstructure:"search_ttl_ms"`
	SearchMaxResults     int `mapstructure:"search_max_results"`
	ChartRetryDelayMS    int `mapstructure:"chart_retry_delay_ms"`
	ChartBaseURL         string `mapstructure:"chart_base_url"`
	SearchBaseURL        string `mapstructure:"search_base_url"`
	CSVBaseURL           string `mapstructure:"csv_base_url"`
}

// LLMCacheConfig sizes the invocation-layer response cache.
type LLMCacheConfig struct {
	TTLMS      int `mapstructure:"ttl_ms"`
	MaxEntries int `mapstructure:"max_entries"`
}

// QuotaConfig points at the usage counter store.
type QuotaConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the flat environment variables the
// deployment environment sets. These names are part of the operational
// contract and must not change.
var envBindings = map[string]string{
	"openai.api_key":                 "OPENAI_API_KEY",
	"openai.model":                   "OPENAI_MODEL",
	"openai.max_output_tokens":       "OPENAI_MAX_OUTPUT_TOKENS",
	"openai.system_prompt":           "OPENAI_SYSTEM_PROMPT",
	"openrouter.api_key":             "OPENROUTER_API_KEY",
	"openrouter.model":               "OPENROUTER_MODEL",
	"openrouter.base_url":            "OPENROUTER_BASE_URL",
	"openrouter.timeout_ms":          "OPENROUTER_TIMEOUT_MS",
	"openrouter.site_url":            "OPENROUTER_SITE_URL",
	"openrouter.site_name":           "OPENROUTER_SITE_NAME",
	"prices.chart_retry_delay_ms":    "YAHOO_RETRY_DELAY_MS",
	"prices.cache_ttl_ms":            "PRICE_CACHE_TTL_MS",
	"prices.cache_max_entries":       "PRICE_CACHE_MAX_ENTRIES",
	"prices.max_symbols_per_request": "PRICE_MAX_SYMBOLS_PER_REQUEST",
	"prices.history_ttl_ms":          "PRICE_HISTORY_TTL_MS",
	"prices.history_max_entries":     "PRICE_HISTORY_MAX_ENTRIES",
	"prices.intraday_ttl_ms":         "PRICE_INTRADAY_TTL_MS",
	"prices.intraday_max_entries":    "PRICE_INTRADAY_MAX_ENTRIES",
	"prices.intraday_lookback_ms":    "PRICE_INTRADAY_LOOKBACK_MS",
	"prices.search_ttl_ms":           "SYMBOL_SEARCH_TTL_MS",
	"prices.search_max_results":      "SYMBOL_SEARCH_MAX_RESULTS",
	"llm_cache.ttl_ms":               "LLM_CACHE_TTL_MS",
	"llm_cache.max_entries":          "LLM_CACHE_MAX_ENTRIES",
}

// Load reads configuration from ./config/config.yaml (optional) and the
// environment. Environment variables win over file values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FOLIOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("FOLIOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_output_tokens", 2048)

	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.timeout_ms", 15000)

	v.SetDefault("prices.cache_ttl_ms", 120000)
	v.SetDefault("prices.cache_max_entries", 100)
	v.SetDefault("prices.max_symbols_per_request", 0) // 0 = unlimited
	v.SetDefault("prices.history_ttl_ms", 21600000)
	v.SetDefault("prices.history_max_entries", 50)
	v.SetDefault("prices.intraday_ttl_ms", 300000)
	v.SetDefault("prices.intraday_max_entries", 50)
	v.SetDefault("prices.intraday_lookback_ms", 2592000000)
	v.SetDefault("prices.search_ttl_ms", 600000)
	v.SetDefault("prices.search_max_results", 8)
	v.SetDefault("prices.chart_retry_delay_ms", 60000)
	v.SetDefault("prices.chart_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("prices.search_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("prices.csv_base_url", "https://stooq.com")

	v.SetDefault("llm_cache.ttl_ms", 300000)
	v.SetDefault("llm_cache.max_entries", 50)

	v.SetDefault("quota.db_path", "foliopilot.db")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Durations derived from the millisecond knobs.

func (c PricesConfig) CacheTTL() time.Duration        { return time.Duration(c.CacheTTLMS) * time.Millisecond }
func (c PricesConfig) HistoryTTL() time.Duration      { return time.Duration(c.HistoryTTLMS) * time.Millisecond }
func (c PricesConfig) IntradayTTL() time.Duration     { return time.Duration(c.IntradayTTLMS) * time.Millisecond }
func (c PricesConfig) IntradayLookback() time.Duration {
	return time.Duration(c.IntradayLookbackMS) * time.Millisecond
}
func (c PricesConfig) SearchTTL() time.Duration     { return time.Duration(c.SearchTTLMS) * time.Millisecond }
func (c PricesConfig) ChartRetryDelay() time.Duration {
	return time.Duration(c.ChartRetryDelayMS) * time.Millisecond
}
func (c LLMCacheConfig) TTL() time.Duration      { return time.Duration(c.TTLMS) * time.Millisecond }
func (c OpenRouterConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }
