package urlcheck

import (
	"net/url"
	"regexp"
	"strings"
)

// tldSeverity ranks TLDs commonly seen in phishing campaigns. Free
// registrations rank highest.
var tldSeverity = map[string]string{
	".tk": "critical", ".ml": "critical", ".ga": "critical",
	".cf": "critical", ".gq": "critical",
	".xyz": "high", ".top": "high", ".icu": "high", ".monster": "high",
	".work": "medium", ".click": "medium", ".link": "medium", ".rest": "medium",
	".buzz": "low", ".site": "low", ".online": "low",
}

var tldRiskWeight = map[string]float64{
	"critical": 0.40,
	"high":     0.30,
	"medium":   0.20,
	"low":      0.10,
}

// suspiciousPathKeywords flag credential-harvesting paths. Matching is
// against the full URL but skipped when the keyword sits in the domain
// itself (paypal.com is fine, evil.com/paypal is not).
var suspiciousPathKeywords = []string{
	"login", "signin", "verify", "secure", "account", "update",
	"confirm", "bank", "paypal", "password", "credential",
}

var (
	ipv4HostRe     = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	numericLabelRe = regexp.MustCompile(`\d{2,}`)
)

// HeuristicResult is the structural risk assessment of one URL.
type HeuristicResult struct {
	RiskScore   float64
	IsMalicious bool
	RiskFactors []string
}

// maliciousThreshold marks a URL malicious on heuristics alone.
const maliciousThreshold = 0.5

// HeuristicCheck scores a URL's structure without any network calls.
func HeuristicCheck(rawURL string) HeuristicResult {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return HeuristicResult{RiskScore: 0.5, RiskFactors: []string{"unparseable URL"}}
	}

	info := Analyze(rawURL)
	host := info.Domain

	var score float64
	var factors []string

	if ipv4HostRe.MatchString(host) {
		factors = append(factors, "IP address instead of domain")
		score += 0.30
	}

	if tier := matchSuspiciousTLD(host); tier != "" {
		factors = append(factors, tier+"-risk TLD")
		score += tldRiskWeight[tier]
	}

	if IsShortener(rawURL) {
		factors = append(factors, "URL shortener detected")
		score += 0.20
	}

	if strings.Count(host, ".") > 3 {
		factors = append(factors, "excessive subdomains")
		score += 0.15
	}

	lower := strings.ToLower(rawURL)
	for _, kw := range suspiciousPathKeywords {
		if strings.Contains(lower, kw) && !strings.Contains(host, kw) {
			factors = append(factors, "suspicious keyword: "+kw)
			score += 0.10
			break
		}
	}

	if !info.IsHTTPS {
		factors = append(factors, "no HTTPS")
		score += 0.10
	}

	if strings.Contains(rawURL, "@") || strings.Contains(parsed.Path, "!") {
		factors = append(factors, "unusual characters in URL")
		score += 0.20
	}

	if strings.HasPrefix(host, "xn--") || strings.Contains(host, ".xn--") {
		factors = append(factors, "punycode domain (potential homograph attack)")
		score += 0.25
	}

	if firstLabel := strings.SplitN(host, ".", 2)[0]; numericLabelRe.MatchString(firstLabel) {
		factors = append(factors, "numeric pattern in domain")
		score += 0.10
	}

	if score > 1.0 {
		score = 1.0
	}

	return HeuristicResult{
		RiskScore:   score,
		IsMalicious: score >= maliciousThreshold,
		RiskFactors: factors,
	}
}

// HasSuspiciousTLD reports whether the URL's domain ends in a
// phishing-prone TLD.
func HasSuspiciousTLD(rawURL string) bool {
	return matchSuspiciousTLD(Domain(rawURL)) != ""
}

func matchSuspiciousTLD(host string) string {
	for tld, tier := range tldSeverity {
		if strings.HasSuffix(host, tld) {
			return tier
		}
	}
	return ""
}
