// Package virustotal provides a minimal VirusTotal API v3 client for
// URL and domain reputation lookups.
package virustotal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/telephis/telephis/internal/resilience"
)

const defaultBaseURL = "https://www.virustotal.com/api/v3"

// Client performs reputation lookups against VirusTotal.
type Client interface {
	CheckURL(ctx context.Context, target string) (*Report, error)
	CheckDomain(ctx context.Context, domain string) (*Report, error)
}

// Report is a normalized reputation verdict.
type Report struct {
	Target      string  `json:"target"`
	Malicious   int     `json:"malicious"`
	Suspicious  int     `json:"suspicious"`
	Harmless    int     `json:"harmless"`
	Undetected  int     `json:"undetected"`
	Reputation  int     `json:"reputation"`
	RiskScore   float64 `json:"risk_score"`
	IsMalicious bool    `json:"is_malicious"`
}

// Total returns the number of engines that produced any verdict.
func (r *Report) Total() int {
	return r.Malicious + r.Suspicious + r.Harmless + r.Undetected
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithQuota throttles lookups to n requests per window. The public
// free tier allows 4 lookups per 15 seconds.
func WithQuota(n int, window time.Duration) Option {
	return func(c *httpClient) {
		if n > 0 && window > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(n)/window.Seconds()), n)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a VirusTotal API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// urlID is VirusTotal's identifier for a URL: unpadded url-safe base64.
func urlID(target string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(target))
}

func extractDomain(target string) string {
	parsed, err := url.Parse(target)
	if err == nil && parsed.Host != "" {
		return parsed.Hostname()
	}
	return strings.SplitN(target, "/", 2)[0]
}

// CheckURL looks up a full URL. URLs unknown to VirusTotal fall back
// to a domain lookup.
func (c *httpClient) CheckURL(ctx context.Context, target string) (*Report, error) {
	status, attrs, err := c.get(ctx, "/urls/"+urlID(target))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		// Not in the URL corpus; the domain verdict is the next best signal.
		return c.CheckDomain(ctx, extractDomain(target))
	}

	report := &Report{Target: target}
	report.fillStats(attrs)

	if total := report.Total(); total > 0 {
		report.RiskScore = (float64(report.Malicious)*1.0 + float64(report.Suspicious)*0.5) / float64(total)
	}
	report.IsMalicious = report.Malicious >= 3 || report.RiskScore > 0.1
	if report.RiskScore > 1.0 {
		report.RiskScore = 1.0
	}
	return report, nil
}

// CheckDomain looks up a registered domain. Risk combines the analysis
// ratio with community reputation (negative means risky).
func (c *httpClient) CheckDomain(ctx context.Context, domain string) (*Report, error) {
	status, attrs, err := c.get(ctx, "/domains/"+domain)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("virustotal: domain lookup for %s returned status %d", domain, status)
	}

	report := &Report{Target: domain}
	report.fillStats(attrs)

	var analysisRisk float64
	if total := report.Total(); total > 0 {
		analysisRisk = (float64(report.Malicious)*1.0 + float64(report.Suspicious)*0.5) / float64(total)
	}

	var reputationFactor float64
	if report.Reputation < -20 {
		reputationFactor = (100.0 - float64(report.Reputation)) / 200.0
		if reputationFactor > 1 {
			reputationFactor = 1
		}
		if reputationFactor < 0 {
			reputationFactor = 0
		}
	}

	report.RiskScore = analysisRisk
	if reputationFactor > report.RiskScore {
		report.RiskScore = reputationFactor
	}
	report.IsMalicious = report.Malicious >= 3 || report.Reputation < -50 || report.RiskScore > 0.15
	if report.RiskScore > 1.0 {
		report.RiskScore = 1.0
	}
	return report, nil
}

type attributes struct {
	LastAnalysisStats struct {
		Malicious  int `json:"malicious"`
		Suspicious int `json:"suspicious"`
		Harmless   int `json:"harmless"`
		Undetected int `json:"undetected"`
	} `json:"last_analysis_stats"`
	Reputation int `json:"reputation"`
}

type apiResponse struct {
	Data struct {
		Attributes attributes `json:"attributes"`
	} `json:"data"`
}

func (r *Report) fillStats(attrs *attributes) {
	r.Malicious = attrs.LastAnalysisStats.Malicious
	r.Suspicious = attrs.LastAnalysisStats.Suspicious
	r.Harmless = attrs.LastAnalysisStats.Harmless
	r.Undetected = attrs.LastAnalysisStats.Undetected
	r.Reputation = attrs.Reputation
}

func (c *httpClient) get(ctx context.Context, path string) (int, *attributes, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, eris.Wrap(err, "virustotal: quota wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, eris.Wrap(err, "virustotal: create request")
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, resilience.NewTransientError(eris.Wrap(err, "virustotal: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, resilience.NewTransientError(eris.Wrap(err, "virustotal: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resp.StatusCode, nil, resilience.NewTransientError(
				eris.Errorf("virustotal: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		}
		return resp.StatusCode, nil, nil
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return resp.StatusCode, nil, eris.Wrap(err, "virustotal: unmarshal response")
	}
	return resp.StatusCode, &parsed.Data.Attributes, nil
}
