package model

import "time"

// Label is a final classification for a message.
type Label string

const (
	LabelSafe       Label = "SAFE"
	LabelSuspicious Label = "SUSPICIOUS"
	LabelPhishing   Label = "PHISHING"
)

// Stance is an agent's position during a debate. LEGITIMATE maps to
// SAFE when a debate verdict becomes a final label.
type Stance string

const (
	StancePhishing   Stance = "PHISHING"
	StanceSuspicious Stance = "SUSPICIOUS"
	StanceLegitimate Stance = "LEGITIMATE"
)

// Label converts a debate stance to the pipeline's label vocabulary.
func (s Stance) Label() Label {
	if s == StanceLegitimate {
		return LabelSafe
	}
	return Label(s)
}

// Action is the moderation step the pipeline recommends.
type Action string

const (
	ActionNone       Action = "none"
	ActionWarn       Action = "warn"
	ActionFlagReview Action = "flag_review"
)

// Stage names the pipeline stage that finalized a decision.
type Stage string

const (
	StageTriage     Stage = "triage"
	StageSingleShot Stage = "single_shot"
	StageMAD        Stage = "mad"
)

// TriageClass buckets the rule-based risk score.
type TriageClass string

const (
	TriageSafe     TriageClass = "SAFE"
	TriageLowRisk  TriageClass = "LOW_RISK"
	TriageHighRisk TriageClass = "HIGH_RISK"
)

// TokenUsage accumulates LLM token counts across calls.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add folds another usage sample into the receiver.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.Input + u.Output
}

// RedFlag is a single rule-based indicator raised during triage.
type RedFlag struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    int    `json:"severity"`
	Matched     string `json:"matched,omitempty"`
}

// Anomaly is a behavioral deviation from a sender's baseline.
type Anomaly struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Deviation   float64 `json:"deviation"`
}

// TriageReport is the full output of the rule-based triage stage.
type TriageReport struct {
	RiskScore          int              `json:"risk_score"`
	Class              TriageClass      `json:"class"`
	SkipLLM            bool             `json:"skip_llm"`
	URLs               []string         `json:"urls,omitempty"`
	WhitelistedURLs    []string         `json:"whitelisted_urls,omitempty"`
	NonWhitelistedURLs []string         `json:"non_whitelisted_urls,omitempty"`
	Flags              []RedFlag        `json:"flags,omitempty"`
	Anomalies          []Anomaly        `json:"anomalies,omitempty"`
	URLChecks          []URLCheckResult `json:"url_checks,omitempty"`
	DurationMS         int64            `json:"duration_ms"`
}

// TriggeredFlags lists flag types in discovery order.
func (t *TriageReport) TriggeredFlags() []string {
	out := make([]string, 0, len(t.Flags))
	for _, f := range t.Flags {
		out = append(out, f.Type)
	}
	return out
}

// SingleShotVerdict is the output of the single-shot classifier stage.
type SingleShotVerdict struct {
	Label            Label      `json:"label"`
	Confidence       float64    `json:"confidence"`
	Reasoning        string     `json:"reasoning,omitempty"`
	RiskFactors      []string   `json:"risk_factors,omitempty"`
	Escalate         bool       `json:"escalate"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	Fallback         bool       `json:"fallback,omitempty"`
	Usage            TokenUsage `json:"usage"`
	DurationMS       int64      `json:"duration_ms"`
}

// AgentResponse is one agent's contribution to one debate round.
type AgentResponse struct {
	Agent      string         `json:"agent"`
	Stance     Stance         `json:"stance"`
	Confidence float64        `json:"confidence"`
	Arguments  []string       `json:"arguments,omitempty"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Round      int            `json:"round"`
	Usage      TokenUsage     `json:"usage"`
	Fallback   bool           `json:"fallback,omitempty"`
}

// StopReason records why a debate ended.
type StopReason string

const (
	StopConsensus StopReason = "consensus"
	StopMaxRounds StopReason = "max_rounds"
	StopTimeout   StopReason = "timeout"
)

// DebateRound groups the responses produced in one round.
type DebateRound struct {
	Number    int             `json:"number"`
	Responses []AgentResponse `json:"responses"`
}

// DebateRecord is the full output of the multi-agent debate stage.
// ConsensusRound is the first round whose responses reached consensus,
// nil when no round did.
type DebateRecord struct {
	Decision       Stance            `json:"decision"`
	Confidence     float64           `json:"confidence"`
	WeightedScore  float64           `json:"weighted_score"`
	Votes          map[string]Stance `json:"votes,omitempty"`
	Consensus      bool              `json:"consensus"`
	ConsensusType  string            `json:"consensus_type,omitempty"`
	ConsensusRound *int              `json:"consensus_round,omitempty"`
	StopReason     StopReason        `json:"stop_reason"`
	Rounds         []DebateRound     `json:"rounds,omitempty"`
	RoundsUsed     int               `json:"rounds_used"`
	Usage          TokenUsage        `json:"usage"`
	DurationMS     int64             `json:"duration_ms"`
}

// Trace preserves per-stage outputs for auditing a decision.
type Trace struct {
	Triage     *TriageReport      `json:"triage,omitempty"`
	SingleShot *SingleShotVerdict `json:"single_shot,omitempty"`
	Debate     *DebateRecord      `json:"debate,omitempty"`
}

// DetectionResult is the pipeline's final output for one message.
type DetectionResult struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"message_id,omitempty"`
	ChatID     string     `json:"chat_id,omitempty"`
	SenderID   string     `json:"sender_id,omitempty"`
	Label      Label      `json:"label"`
	Confidence float64    `json:"confidence"`
	Stage      Stage      `json:"stage"`
	Action     Action     `json:"action"`
	Usage      TokenUsage `json:"usage"`
	DurationMS int64      `json:"duration_ms"`
	Trace      Trace      `json:"trace"`
	CreatedAt  time.Time  `json:"created_at"`
}
