package triage

import (
	"time"

	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/urlcheck"
)

// Score weights per flag type. A shortener alone is a mild signal;
// the destination domain is what matters.
var scoreWeights = map[string]int{
	"blacklisted_domain":          50,
	"shortened_url":               10,
	"shortened_url_expand_failed": 15,
	"suspicious_tld":              15,
	"urgency_keywords":            15,
	"phishing_keywords":           20,
	"caps_lock_abuse":             10,
	"excessive_punctuation":       5,
	"authority_impersonation":     20,
	"time_anomaly":                10,
	"length_anomaly":              10,
	"first_time_url":              10,
	"emoji_anomaly":               5,
}

const defaultFlagWeight = 10

// Triage is the deterministic stage-1 scorer.
type Triage struct {
	trust   *urlcheck.TrustSet
	scanner *Scanner

	lowRiskThreshold int
	shortenerBonus   int
	minBaselineMsgs  int
}

// Option configures a Triage.
type Option func(*Triage)

// WithTrustSet overrides the default trust set.
func WithTrustSet(t *urlcheck.TrustSet) Option {
	return func(tr *Triage) {
		tr.trust = t
	}
}

// WithScanner overrides the default red-flag scanner.
func WithScanner(s *Scanner) Option {
	return func(tr *Triage) {
		tr.scanner = s
	}
}

// WithLowRiskThreshold moves the LOW_RISK/HIGH_RISK boundary.
func WithLowRiskThreshold(n int) Option {
	return func(tr *Triage) {
		if n > 0 {
			tr.lowRiskThreshold = n
		}
	}
}

// WithShortenerBonus overrides the per-URL whitelisted-shortener bonus.
func WithShortenerBonus(n int) Option {
	return func(tr *Triage) {
		tr.shortenerBonus = n
	}
}

// WithMinBaselineMessages sets the baseline sufficiency threshold.
func WithMinBaselineMessages(n int) Option {
	return func(tr *Triage) {
		if n > 0 {
			tr.minBaselineMsgs = n
		}
	}
}

// New creates a triage scorer.
func New(opts ...Option) *Triage {
	t := &Triage{
		trust:            urlcheck.NewTrustSet(),
		scanner:          NewScanner(),
		lowRiskThreshold: 30,
		shortenerBonus:   -10,
		minBaselineMsgs:  10,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Analyze runs the full rule-based triage over one message. urlChecks
// carries pre-computed checker verdicts keyed by URL; triage itself
// performs no network calls.
func (t *Triage) Analyze(text string, sentAt time.Time, baseline *model.BaselineSnapshot, urlChecks map[string]model.URLCheckResult) *model.TriageReport {
	start := time.Now()
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	urls := urlcheck.ExtractURLs(text)
	hasURLs := len(urls) > 0

	whitelisted, other := t.trust.Partition(urls)

	var (
		riskScore int
		flags     []model.RedFlag
		checks    []model.URLCheckResult
	)

	// URL flags on non-whitelisted URLs, adjusted by checker evidence.
	remaining := other[:0]
	for _, u := range other {
		check, checked := urlChecks[u]
		if checked {
			checks = append(checks, check)
		}

		if checked && trustedByChecker(check) {
			whitelisted = append(whitelisted, u)
			// Trust-set destination behind a shortener: the shortener
			// flag stands, offset by the whitelist bonus.
			if urlcheck.IsShortener(u) {
				flags = append(flags, model.RedFlag{
					Type:        "shortened_url",
					Description: "shortened URL resolved to trusted domain",
					Severity:    3,
					Matched:     urlcheck.Domain(u),
				})
				riskScore += t.shortenerBonus
			}
			continue
		}
		remaining = append(remaining, u)

		urlFlags := t.scanner.ScanURL(u)
		if checked {
			urlFlags = t.adjustForExpansion(u, check, urlFlags)
		}
		flags = append(flags, urlFlags...)
	}
	other = remaining

	// Text flags.
	flags = append(flags, t.scanner.ScanText(text)...)

	// Behavioral anomalies.
	anomalies := DetectAnomalies(text, sentAt, hasURLs, baseline, t.minBaselineMsgs)

	// Risk score: flag weights plus deviation-scaled anomaly weights.
	for _, f := range flags {
		w, ok := scoreWeights[f.Type]
		if !ok {
			w = defaultFlagWeight
		}
		riskScore += w
	}
	for _, a := range anomalies {
		w, ok := scoreWeights[a.Type]
		if !ok {
			w = defaultFlagWeight
		}
		riskScore += int(float64(w) * a.Deviation)
	}

	if riskScore < 0 {
		riskScore = 0
	}
	if riskScore > 100 {
		riskScore = 100
	}

	allWhitelisted := len(other) == 0 && len(whitelisted) > 0

	var class model.TriageClass
	var skipLLM bool
	switch {
	case riskScore == 0 && (allWhitelisted || !hasURLs):
		class = model.TriageSafe
		skipLLM = true
	case riskScore < t.lowRiskThreshold:
		class = model.TriageLowRisk
	default:
		class = model.TriageHighRisk
	}

	report := &model.TriageReport{
		RiskScore:          riskScore,
		Class:              class,
		SkipLLM:            skipLLM,
		URLs:               urls,
		WhitelistedURLs:    whitelisted,
		NonWhitelistedURLs: other,
		Flags:              flags,
		Anomalies:          anomalies,
		URLChecks:          checks,
		DurationMS:         time.Since(start).Milliseconds(),
	}

	zap.L().Debug("triage complete",
		zap.Int("risk_score", riskScore),
		zap.String("class", string(class)),
		zap.Bool("skip_llm", skipLLM),
		zap.Int("urls", len(urls)),
		zap.Int("flags", len(flags)),
		zap.Int("anomalies", len(anomalies)))

	return report
}

// trustedByChecker accepts whitelist verdicts and near-zero risk
// verdicts from the external checker.
func trustedByChecker(check model.URLCheckResult) bool {
	if check.Source == model.CheckSourceWhitelist {
		return true
	}
	return !check.IsMalicious && check.RiskScore <= 0.10 && !expansionFailed(check)
}

// expansionFailed recognizes expand failures by source or by signal,
// so cache-sourced verdicts keep their original meaning.
func expansionFailed(check model.URLCheckResult) bool {
	if check.Source == model.CheckSourceExpandFailed {
		return true
	}
	for _, s := range check.Signals {
		if s == "expansion failed" {
			return true
		}
	}
	return false
}

// adjustForExpansion refines shortener flags using expansion evidence
// and scans the destination for its own flags.
func (t *Triage) adjustForExpansion(rawURL string, check model.URLCheckResult, urlFlags []model.RedFlag) []model.RedFlag {
	adjusted := make([]model.RedFlag, 0, len(urlFlags))
	for _, f := range urlFlags {
		if f.Type != "shortened_url" {
			adjusted = append(adjusted, f)
			continue
		}
		if expansionFailed(check) {
			adjusted = append(adjusted, model.RedFlag{
				Type:        "shortened_url_expand_failed",
				Description: "shortened URL could not be expanded (destination unknown)",
				Severity:    5,
				Matched:     f.Matched,
			})
			continue
		}
		if check.FinalURL != "" {
			dest := urlcheck.Domain(check.FinalURL)
			adjusted = append(adjusted, model.RedFlag{
				Type:        "shortened_url",
				Description: "shortened URL resolves to " + dest + " (not whitelisted)",
				Severity:    3,
				Matched:     f.Matched + " -> " + dest,
			})
			adjusted = append(adjusted, t.scanner.ScanURL(check.FinalURL)...)
			continue
		}
		adjusted = append(adjusted, f)
	}
	return adjusted
}
