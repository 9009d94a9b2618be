package llm

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Config selects and parameterizes a gateway implementation.
type Config struct {
	Provider    string // deepseek, openrouter, anthropic
	APIKey      string
	BaseURL     string
	Model       string
	MaxRPM      int
	TimeoutSecs int
}

// New builds a Gateway for the configured provider.
func New(cfg Config) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, eris.Errorf("llm: missing API key for provider %q", cfg.Provider)
	}

	switch cfg.Provider {
	case "deepseek", "openrouter":
		opts := []OpenAIOption{WithMaxRPM(cfg.MaxRPM)}
		if cfg.TimeoutSecs > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
				Transport: &http.Transport{
					MaxIdleConnsPerHost: 20,
					IdleConnTimeout:     90 * time.Second,
				},
			}))
		}
		return NewOpenAI(cfg.Provider, cfg.APIKey, cfg.BaseURL, cfg.Model, opts...), nil
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.MaxRPM), nil
	default:
		return nil, eris.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
