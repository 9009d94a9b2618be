package urlcheck

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/resilience"
	"github.com/telephis/telephis/pkg/virustotal"
)

// Checker runs the four-layer URL check: expansion, trust set,
// structural heuristics, external reputation. Results are cached per
// URL with a TTL.
type Checker struct {
	trust      *TrustSet
	expander   *Expander
	reputation virustotal.Client // nil when no API key is configured
	breaker    *resilience.CircuitBreaker

	maxConcurrent int
	cacheTTL      time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry

	nowFunc func() time.Time
}

type cacheEntry struct {
	result  model.URLCheckResult
	expires time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithReputation enables the external reputation layer.
func WithReputation(client virustotal.Client) CheckerOption {
	return func(c *Checker) {
		c.reputation = client
	}
}

// WithExpander overrides the default expander.
func WithExpander(e *Expander) CheckerOption {
	return func(c *Checker) {
		c.expander = e
	}
}

// WithTrustSet overrides the default trust set.
func WithTrustSet(t *TrustSet) CheckerOption {
	return func(c *Checker) {
		c.trust = t
	}
}

// WithMaxConcurrent bounds the per-message fan-out.
func WithMaxConcurrent(n int) CheckerOption {
	return func(c *Checker) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithCacheTTL overrides the result cache TTL.
func WithCacheTTL(ttl time.Duration) CheckerOption {
	return func(c *Checker) {
		c.cacheTTL = ttl
	}
}

// NewChecker creates a URL checker.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{
		trust:         NewTrustSet(),
		expander:      NewExpander(10*time.Second, 10),
		maxConcurrent: 4,
		cacheTTL:      time.Hour,
		cache:         make(map[string]cacheEntry),
		nowFunc:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.reputation != nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return c
}

// Trust exposes the checker's trust set.
func (c *Checker) Trust() *TrustSet {
	return c.trust
}

// Check runs all layers against one URL. Repeated calls within the
// cache TTL return the cached verdict, re-sourced as a cache hit.
func (c *Checker) Check(ctx context.Context, rawURL string) model.URLCheckResult {
	if cached, ok := c.fromCache(rawURL); ok {
		cached.Source = model.CheckSourceCache
		return cached
	}

	result := c.evaluate(ctx, rawURL)
	c.store(rawURL, result)
	return result
}

// CheckAll fans out over urls with a bounded worker pool and returns a
// result per URL.
func (c *Checker) CheckAll(ctx context.Context, urls []string) map[string]model.URLCheckResult {
	if len(urls) == 0 {
		return nil
	}

	results := make([]model.URLCheckResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i, u := range urls {
		g.Go(func() error {
			results[i] = c.Check(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]model.URLCheckResult, len(urls))
	for i, u := range urls {
		out[u] = results[i]
	}
	return out
}

func (c *Checker) evaluate(ctx context.Context, rawURL string) model.URLCheckResult {
	result := model.URLCheckResult{URL: rawURL, Details: map[string]any{}}

	// Layer 1: expand shorteners so later layers judge the destination.
	finalURL := rawURL
	if IsShortener(rawURL) {
		expanded, chain, err := c.expander.Expand(ctx, rawURL)
		if err != nil {
			zap.L().Warn("url expansion failed",
				zap.String("url", rawURL),
				zap.Error(err))
			heur := HeuristicCheck(rawURL)
			result.Source = model.CheckSourceExpandFailed
			result.RiskScore = heur.RiskScore
			result.IsMalicious = heur.IsMalicious
			result.Signals = append(heur.RiskFactors, "expansion failed")
			return result
		}
		finalURL = expanded
		result.RedirectChain = chain
		if expanded != rawURL {
			result.FinalURL = expanded
		}
	}

	// Layer 2: trusted destinations short-circuit with zero risk.
	if c.trust.Contains(finalURL) {
		result.Source = model.CheckSourceWhitelist
		result.RiskScore = 0
		result.IsMalicious = false
		result.Details["trusted_domain"] = true
		return result
	}

	// Layer 3: structural heuristics on both original and destination.
	heur := HeuristicCheck(rawURL)
	if finalURL != rawURL {
		if expandedHeur := HeuristicCheck(finalURL); expandedHeur.RiskScore > heur.RiskScore {
			heur = expandedHeur
		}
	}
	result.Source = model.CheckSourceHeuristic
	result.RiskScore = heur.RiskScore
	result.IsMalicious = heur.IsMalicious
	result.Signals = heur.RiskFactors

	// Layer 4: external reputation, skipped when unconfigured or the
	// breaker is open. Failures leave the heuristic verdict standing.
	if c.reputation != nil {
		report, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*virustotal.Report, error) {
			return c.reputation.CheckURL(ctx, finalURL)
		})
		if err != nil {
			zap.L().Warn("reputation check failed",
				zap.String("url", finalURL),
				zap.Error(err))
			return result
		}
		result.Source = model.CheckSourceCombined
		if len(heur.RiskFactors) == 0 {
			// The heuristics had nothing to say; the verdict is purely
			// the external one.
			result.Source = model.CheckSourceExternal
		}
		if report.RiskScore > result.RiskScore {
			result.RiskScore = report.RiskScore
		}
		result.IsMalicious = result.IsMalicious || report.IsMalicious

		rep := model.ReputationReport{
			Malicious:  report.Malicious,
			Suspicious: report.Suspicious,
			Harmless:   report.Harmless,
			Undetected: report.Undetected,
			Reputation: report.Reputation,
			RiskScore:  report.RiskScore,
		}
		rep.Found = rep.Total() > 0
		result.Details["reputation"] = rep
	}

	return result
}

func (c *Checker) fromCache(rawURL string) (model.URLCheckResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[rawURL]
	if !ok || c.nowFunc().After(entry.expires) {
		return model.URLCheckResult{}, false
	}
	return entry.result, true
}

func (c *Checker) store(rawURL string, result model.URLCheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[rawURL] = cacheEntry{result: result, expires: c.nowFunc().Add(c.cacheTTL)}
}
