package singleshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/pkg/llm"
)

// Routing thresholds. The classifier is a router, not a judge: only
// high-confidence SAFE may finalize here.
const (
	highConfidenceSafe = 0.90
	lowConfidence      = 0.70
	moderateConfidence = 0.80
	highTriageRisk     = 50
	defaultTemperature = 0.3
	defaultMaxTokens   = 500
)

// Classifier is the stage-2 single-shot LLM classifier.
type Classifier struct {
	gateway     llm.Gateway
	temperature float64
	maxTokens   int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Classifier) {
		c.temperature = t
	}
}

// WithMaxTokens overrides the output token budget.
func WithMaxTokens(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New creates a classifier on top of the given gateway.
func New(gateway llm.Gateway, opts ...Option) *Classifier {
	c := &Classifier{
		gateway:     gateway,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify produces a verdict for one message. A model failure yields
// a fallback verdict that always escalates.
func (c *Classifier) Classify(ctx context.Context, msg model.Message, sender *model.Sender, baseline *model.BaselineSnapshot, report *model.TriageReport) *model.SingleShotVerdict {
	start := time.Now()

	// Trivially-safe traffic should have been finalized upstream, but
	// honor the marker if it reaches us.
	if report != nil && report.SkipLLM {
		return &model.SingleShotVerdict{
			Label:      model.LabelSafe,
			Confidence: 1.0,
			Reasoning:  "Pesan hanya berisi URL dari domain terpercaya atau tidak ada indikator risiko",
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	prompt := BuildPrompt(msg, sender, baseline, report)

	resp, err := c.gateway.Generate(ctx, llm.Request{
		System:      SystemPrompt,
		Prompt:      prompt,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		zap.L().Warn("single-shot model call failed", zap.Error(err))
		return c.fallback(report, err.Error(), start)
	}
	if len(resp.Structured) == 0 {
		zap.L().Warn("single-shot response unparseable",
			zap.String("text", resp.Text))
		v := c.fallback(report, "unparseable model output", start)
		v.Usage = model.TokenUsage{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens}
		return v
	}

	label := model.Label(llm.NormalizeLabel(llm.ObjString(resp.Structured, "classification", "SUSPICIOUS")))
	switch label {
	case model.LabelSafe, model.LabelSuspicious, model.LabelPhishing:
	default:
		label = model.LabelSuspicious
	}
	confidence := llm.Clamp01(llm.ObjFloat(resp.Structured, "confidence", 0.5))

	triageRisk := 0
	if report != nil {
		triageRisk = report.RiskScore
	}
	escalate, reason := shouldEscalate(label, confidence, triageRisk)

	return &model.SingleShotVerdict{
		Label:            label,
		Confidence:       confidence,
		Reasoning:        llm.ObjString(resp.Structured, "reasoning", ""),
		RiskFactors:      llm.ObjStrings(resp.Structured, "risk_factors"),
		Escalate:         escalate,
		EscalationReason: reason,
		Usage:            model.TokenUsage{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens},
		DurationMS:       time.Since(start).Milliseconds(),
	}
}

// shouldEscalate applies the routing contract. PHISHING is never
// finalized here.
func shouldEscalate(label model.Label, confidence float64, triageRisk int) (bool, string) {
	if label == model.LabelPhishing {
		return true, fmt.Sprintf("PHISHING classification always requires debate verification (confidence: %.0f%%)", confidence*100)
	}
	if label == model.LabelSuspicious {
		return true, "SUSPICIOUS classification requires multi-agent verification"
	}
	if label == model.LabelSafe && confidence >= highConfidenceSafe {
		return false, ""
	}
	if confidence < lowConfidence {
		return true, fmt.Sprintf("low confidence (%.0f%%) requires multi-agent verification", confidence*100)
	}
	if triageRisk >= highTriageRisk && confidence < moderateConfidence {
		return true, fmt.Sprintf("high triage risk (%d) with moderate confidence (%.0f%%)", triageRisk, confidence*100)
	}
	// SAFE below the finalization bar.
	return true, fmt.Sprintf("SAFE below finalization threshold (%.0f%% < %.0f%%)", confidence*100, highConfidenceSafe*100)
}

// fallback synthesizes a conservative verdict from the triage class
// when the model is unavailable.
func (c *Classifier) fallback(report *model.TriageReport, cause string, start time.Time) *model.SingleShotVerdict {
	label := model.LabelSuspicious
	confidence := 0.5
	if report != nil {
		switch report.Class {
		case model.TriageHighRisk:
			label, confidence = model.LabelSuspicious, 0.6
		case model.TriageLowRisk:
			label, confidence = model.LabelSuspicious, 0.5
		default:
			label, confidence = model.LabelSafe, 0.7
		}
	}

	return &model.SingleShotVerdict{
		Label:            label,
		Confidence:       confidence,
		Reasoning:        "Fallback classification due to LLM error: " + cause,
		RiskFactors:      []string{"llm_error"},
		Escalate:         true,
		EscalationReason: "LLM error - requires multi-agent verification",
		Fallback:         true,
		DurationMS:       time.Since(start).Milliseconds(),
	}
}
