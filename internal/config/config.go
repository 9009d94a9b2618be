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
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	VirusTotal VirusTotalConfig `yaml:"virustotal" mapstructure:"virustotal"`
	Triage     TriageConfig     `yaml:"triage" mapstructure:"triage"`
	URLCheck   URLCheckConfig   `yaml:"urlcheck" mapstructure:"urlcheck"`
	SingleShot SingleShotConfig `yaml:"single_shot" mapstructure:"single_shot"`
	MAD        MADConfig        `yaml:"mad" mapstructure:"mad"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LLMConfig selects and configures the gateway provider.
type LLMConfig struct {
	Provider    string           `yaml:"provider" mapstructure:"provider"`
	MaxRPM      int              `yaml:"max_rpm" mapstructure:"max_rpm"`
	TimeoutSecs int              `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DeepSeek    OpenAICompatible `yaml:"deepseek" mapstructure:"deepseek"`
	OpenRouter  OpenAICompatible `yaml:"openrouter" mapstructure:"openrouter"`
	Anthropic   AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
}

// OpenAICompatible holds settings for an OpenAI-compatible chat endpoint.
type OpenAICompatible struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// VirusTotalConfig holds reputation service settings.
type VirusTotalConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchWindowS int    `yaml:"batch_window_secs" mapstructure:"batch_window_secs"`
}

// TriageConfig configures the rule-based triage stage.
type TriageConfig struct {
	LowRiskThreshold        int `yaml:"low_risk_threshold" mapstructure:"low_risk_threshold"`
	ShortenerWhitelistBonus int `yaml:"shortener_whitelist_bonus" mapstructure:"shortener_whitelist_bonus"`
	MinBaselineMessages     int `yaml:"min_baseline_messages" mapstructure:"min_baseline_messages"`
}

// URLCheckConfig configures URL expansion and checking.
type URLCheckConfig struct {
	ExpandTimeoutMS int `yaml:"expand_timeout_ms" mapstructure:"expand_timeout_ms"`
	MaxRedirects    int `yaml:"max_redirects" mapstructure:"max_redirects"`
	MaxConcurrent   int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	CacheTTLMins    int `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// SingleShotConfig configures the stage-2 classifier.
type SingleShotConfig struct {
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MADConfig configures the multi-agent debate stage.
type MADConfig struct {
	Mode                string             `yaml:"mode" mapstructure:"mode"`
	MaxRounds           int                `yaml:"max_rounds" mapstructure:"max_rounds"`
	EarlyTermination    bool               `yaml:"early_termination" mapstructure:"early_termination"`
	MaxTotalTimeMS      int                `yaml:"max_total_time_ms" mapstructure:"max_total_time_ms"`
	ConsensusConfidence float64            `yaml:"consensus_confidence" mapstructure:"consensus_confidence"`
	SerializeAgentCalls bool               `yaml:"serialize_agent_calls" mapstructure:"serialize_agent_calls"`
	Weights             map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// BudgetConfig caps monthly LLM spend (warning only).
type BudgetConfig struct {
	MonthlyUSD float64 `yaml:"monthly_usd" mapstructure:"monthly_usd"`
}

// PricingConfig holds per-provider token pricing.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the dashboard/API server.
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
	v.SetEnvPrefix("TELEPHIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "telephis.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.max_rpm", 60)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.deepseek.model", "deepseek-chat")
	v.SetDefault("llm.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.openrouter.model", "deepseek/deepseek-chat")
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5-20251001")

	v.SetDefault("virustotal.base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("virustotal.batch_size", 4)
	v.SetDefault("virustotal.batch_window_secs", 15)

	v.SetDefault("triage.low_risk_threshold", 30)
	v.SetDefault("triage.shortener_whitelist_bonus", -10)
	v.SetDefault("triage.min_baseline_messages", 10)

	v.SetDefault("urlcheck.expand_timeout_ms", 10000)
	v.SetDefault("urlcheck.max_redirects", 10)
	v.SetDefault("urlcheck.max_concurrent", 4)
	v.SetDefault("urlcheck.cache_ttl_mins", 60)

	v.SetDefault("single_shot.temperature", 0.3)
	v.SetDefault("single_shot.max_tokens", 500)

	v.SetDefault("mad.mode", "three")
	v.SetDefault("mad.max_rounds", 2)
	v.SetDefault("mad.early_termination", true)
	v.SetDefault("mad.max_total_time_ms", 0)
	v.SetDefault("mad.consensus_confidence", 0.75)
	v.SetDefault("mad.serialize_agent_calls", false)

	v.SetDefault("budget.monthly_usd", 5.0)
	v.SetDefault("pricing.models", map[string]ModelPricing{
		"deepseek-chat": {Input: 0.27, Output: 1.10},
	})

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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "deepseek", "openrouter", "anthropic":
	default:
		return eris.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	switch c.MAD.Mode {
	case "three", "five":
	default:
		return eris.Errorf("config: mad.mode must be three or five, got %q", c.MAD.Mode)
	}
	if c.MAD.MaxRounds < 1 {
		return eris.New("config: mad.max_rounds must be at least 1")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
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
