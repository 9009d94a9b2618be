package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/telephis/telephis/internal/config"
	"github.com/telephis/telephis/internal/cost"
	"github.com/telephis/telephis/internal/detect"
	"github.com/telephis/telephis/internal/detect/mad"
	"github.com/telephis/telephis/internal/detect/singleshot"
	"github.com/telephis/telephis/internal/detect/triage"
	"github.com/telephis/telephis/internal/store"
	"github.com/telephis/telephis/internal/urlcheck"
	"github.com/telephis/telephis/pkg/llm"
	"github.com/telephis/telephis/pkg/virustotal"
)

// env holds the wired subsystems a command needs.
type env struct {
	Store     store.Store
	Gateway   llm.Gateway
	Pipeline  *detect.Pipeline
	Checker   *urlcheck.Checker
	Guard     *cost.BudgetGuard
	ModelName string
}

func (e *env) Close() {
	if e.Store != nil {
		e.Store.Close()
	}
}

// initEnv builds the full pipeline from the loaded configuration.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	gwCfg := gatewayConfig(cfg.LLM)
	gateway, err := llm.New(gwCfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	checkerOpts := []urlcheck.CheckerOption{
		urlcheck.WithExpander(urlcheck.NewExpander(
			time.Duration(cfg.URLCheck.ExpandTimeoutMS)*time.Millisecond,
			cfg.URLCheck.MaxRedirects,
		)),
		urlcheck.WithMaxConcurrent(cfg.URLCheck.MaxConcurrent),
		urlcheck.WithCacheTTL(time.Duration(cfg.URLCheck.CacheTTLMins) * time.Minute),
	}
	if cfg.VirusTotal.Key != "" {
		vt := virustotal.NewClient(cfg.VirusTotal.Key,
			virustotal.WithBaseURL(cfg.VirusTotal.BaseURL),
			virustotal.WithQuota(cfg.VirusTotal.BatchSize,
				time.Duration(cfg.VirusTotal.BatchWindowS)*time.Second))
		checkerOpts = append(checkerOpts, urlcheck.WithReputation(vt))
	}
	checker := urlcheck.NewChecker(checkerOpts...)

	scorer := triage.New(
		triage.WithLowRiskThreshold(cfg.Triage.LowRiskThreshold),
		triage.WithShortenerBonus(cfg.Triage.ShortenerWhitelistBonus),
		triage.WithMinBaselineMessages(cfg.Triage.MinBaselineMessages),
	)

	classifier := singleshot.New(gateway,
		singleshot.WithTemperature(cfg.SingleShot.Temperature),
		singleshot.WithMaxTokens(cfg.SingleShot.MaxTokens),
	)

	roster := mad.ThreeAgentRoster()
	if cfg.MAD.Mode == "five" {
		roster = mad.FiveAgentRoster()
	}
	if cfg.MAD.ConsensusConfidence > 0 {
		roster.ConsensusConfidence = cfg.MAD.ConsensusConfidence
	}
	roster.ApplyWeights(cfg.MAD.Weights)

	debate := mad.New(gateway, roster,
		mad.WithMaxRounds(cfg.MAD.MaxRounds),
		mad.WithEarlyTermination(cfg.MAD.EarlyTermination),
		mad.WithMaxTotalTime(time.Duration(cfg.MAD.MaxTotalTimeMS)*time.Millisecond),
		mad.WithSerializedAgents(cfg.MAD.SerializeAgentCalls),
	)

	pipeline := detect.New(scorer, classifier, debate,
		detect.WithURLChecker(checker),
		detect.WithRecorder(st),
	)

	rates := make(map[string]cost.ModelRate, len(cfg.Pricing.Models))
	for name, p := range cfg.Pricing.Models {
		rates[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	guard := cost.NewBudgetGuard(st, cost.NewCalculator(rates), cfg.Budget.MonthlyUSD)

	return &env{
		Store:     st,
		Gateway:   gateway,
		Pipeline:  pipeline,
		Checker:   checker,
		Guard:     guard,
		ModelName: gwCfg.Model,
	}, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		return store.NewSQLite(sc.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", sc.Driver)
	}
}

func gatewayConfig(lc config.LLMConfig) llm.Config {
	c := llm.Config{
		Provider:    lc.Provider,
		MaxRPM:      lc.MaxRPM,
		TimeoutSecs: lc.TimeoutSecs,
	}
	switch lc.Provider {
	case "deepseek":
		c.APIKey = lc.DeepSeek.Key
		c.BaseURL = lc.DeepSeek.BaseURL
		c.Model = lc.DeepSeek.Model
	case "openrouter":
		c.APIKey = lc.OpenRouter.Key
		c.BaseURL = lc.OpenRouter.BaseURL
		c.Model = lc.OpenRouter.Model
	case "anthropic":
		c.APIKey = lc.Anthropic.Key
		c.Model = lc.Anthropic.Model
	}
	return c
}
