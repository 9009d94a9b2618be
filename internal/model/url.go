package model

// CheckSource identifies which layer of the URL checker produced a verdict.
type CheckSource string

const (
	CheckSourceWhitelist    CheckSource = "whitelist"
	CheckSourceHeuristic    CheckSource = "heuristic"
	CheckSourceExternal     CheckSource = "external"
	CheckSourceCombined     CheckSource = "heuristic+external"
	CheckSourceExpandFailed CheckSource = "expand_failed"
	CheckSourceCache        CheckSource = "cache"
)

// URLCheckResult is the verdict for a single URL after expansion,
// trust lookup, heuristic scoring, and optional external reputation.
type URLCheckResult struct {
	URL           string         `json:"url"`
	FinalURL      string         `json:"final_url,omitempty"`
	RedirectChain []string       `json:"redirect_chain,omitempty"`
	IsMalicious   bool           `json:"is_malicious"`
	RiskScore     float64        `json:"risk_score"`
	Source        CheckSource    `json:"source"`
	Signals       []string       `json:"signals,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// ReputationReport is the normalized view of an external URL/domain
// reputation lookup.
type ReputationReport struct {
	Malicious  int     `json:"malicious"`
	Suspicious int     `json:"suspicious"`
	Harmless   int     `json:"harmless"`
	Undetected int     `json:"undetected"`
	Reputation int     `json:"reputation"`
	RiskScore  float64 `json:"risk_score"`
	Found      bool    `json:"found"`
}

// Total returns the number of engines that produced any verdict.
func (r ReputationReport) Total() int {
	return r.Malicious + r.Suspicious + r.Harmless + r.Undetected
}
