// Package detect wires the three detection stages into one pipeline:
// rule-based triage, the single-shot classifier, and the multi-agent
// debate. Each stage may finalize; later stages see earlier output.
package detect

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/detect/mad"
	"github.com/telephis/telephis/internal/detect/singleshot"
	"github.com/telephis/telephis/internal/detect/triage"
	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/urlcheck"
)

// Moderation is never automatic deletion; PHISHING always goes to an
// admin for review.
const warnConfidenceThreshold = 0.60

// Recorder persists finished detections. Persistence is best-effort
// and never blocks or fails an analysis.
type Recorder interface {
	SaveResult(ctx context.Context, result *model.DetectionResult) error
}

// Pipeline runs a message through triage, single-shot, and debate.
type Pipeline struct {
	triage     *triage.Triage
	classifier *singleshot.Classifier
	debate     *mad.Debate

	checker  *urlcheck.Checker
	recorder Recorder
	stageCap model.Stage
	nowFunc  func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithURLChecker enables URL expansion and reputation checks ahead of
// triage.
func WithURLChecker(c *urlcheck.Checker) Option {
	return func(p *Pipeline) {
		p.checker = c
	}
}

// WithRecorder enables asynchronous persistence of results.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// CapStage stops escalation past the given stage. The evaluation
// harness uses it to score triage or the single-shot classifier in
// isolation; the zero value runs all three stages.
func (p *Pipeline) CapStage(s model.Stage) {
	p.stageCap = s
}

// New creates a pipeline from its three stages.
func New(t *triage.Triage, c *singleshot.Classifier, d *mad.Debate, opts ...Option) *Pipeline {
	p := &Pipeline{
		triage:     t,
		classifier: c,
		debate:     d,
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Analyze runs the full pipeline over one message.
func (p *Pipeline) Analyze(ctx context.Context, msg model.Message, sender *model.Sender, baseline *model.BaselineSnapshot) *model.DetectionResult {
	return p.AnalyzeWithChecks(ctx, msg, sender, baseline, nil)
}

// AnalyzeWithChecks runs the pipeline with URL checker verdicts the
// caller computed ahead of time, keyed by URL. Adapters that batch the
// slow checks before invoking the pipeline pass them here; a nil map
// makes the pipeline run its own checker.
func (p *Pipeline) AnalyzeWithChecks(ctx context.Context, msg model.Message, sender *model.Sender, baseline *model.BaselineSnapshot, urlChecks map[string]model.URLCheckResult) *model.DetectionResult {
	start := time.Now()
	if msg.SentAt.IsZero() {
		msg.SentAt = p.nowFunc()
	}

	// URL checks run once, up front; triage and the agents consume the
	// same evidence.
	if urlChecks == nil && p.checker != nil {
		if urls := urlcheck.ExtractURLs(msg.Text); len(urls) > 0 {
			urlChecks = p.checker.CheckAll(ctx, urls)
		}
	}

	// Stage 1: rule-based triage.
	report := p.triage.Analyze(msg.Text, msg.SentAt, baseline, urlChecks)
	trace := model.Trace{Triage: report}

	if report.SkipLLM || p.stageCap == model.StageTriage {
		label, confidence := triageVerdict(report)
		return p.finalize(ctx, msg, label, confidence, model.StageTriage, model.TokenUsage{}, trace, start)
	}

	// Stage 2: single-shot classifier. It is a router; only
	// high-confidence SAFE finalizes here.
	verdict := p.classifier.Classify(ctx, msg, sender, baseline, report)
	trace.SingleShot = verdict

	usage := verdict.Usage
	if !verdict.Escalate || p.stageCap == model.StageSingleShot {
		return p.finalize(ctx, msg, verdict.Label, verdict.Confidence, model.StageSingleShot, usage, trace, start)
	}

	// Stage 3: multi-agent debate. The only stage that can finalize
	// PHISHING.
	record := p.debate.Run(ctx, mad.Input{
		Message:    msg,
		Sender:     sender,
		Baseline:   baseline,
		Triage:     report,
		SingleShot: verdict,
	})
	trace.Debate = record
	usage.Add(record.Usage)

	return p.finalize(ctx, msg, record.Decision.Label(), record.Confidence, model.StageMAD, usage, trace, start)
}

func (p *Pipeline) finalize(ctx context.Context, msg model.Message, label model.Label, confidence float64, stage model.Stage, usage model.TokenUsage, trace model.Trace, start time.Time) *model.DetectionResult {
	result := &model.DetectionResult{
		ID:         uuid.NewString(),
		MessageID:  msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		Label:      label,
		Confidence: confidence,
		Stage:      stage,
		Action:     DetermineAction(label, confidence),
		Usage:      usage,
		DurationMS: time.Since(start).Milliseconds(),
		Trace:      trace,
		CreatedAt:  p.nowFunc(),
	}

	zap.L().Info("detection complete",
		zap.String("id", result.ID),
		zap.String("label", string(label)),
		zap.Float64("confidence", confidence),
		zap.String("stage", string(stage)),
		zap.String("action", string(result.Action)),
		zap.Int("tokens", usage.Total()),
		zap.Int64("duration_ms", result.DurationMS))

	if p.recorder != nil {
		go p.persist(context.WithoutCancel(ctx), result)
	}
	return result
}

func (p *Pipeline) persist(ctx context.Context, result *model.DetectionResult) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.recorder.SaveResult(ctx, result); err != nil {
		zap.L().Warn("failed to persist detection result",
			zap.String("id", result.ID),
			zap.Error(err))
	}
}

// triageVerdict maps a triage report to a label when the pipeline ends
// at stage 1. Skipped messages are SAFE at full confidence; a capped
// run grades the risk classes directly.
func triageVerdict(report *model.TriageReport) (model.Label, float64) {
	switch report.Class {
	case model.TriageHighRisk:
		confidence := float64(report.RiskScore) / 100
		if confidence < 0.5 {
			confidence = 0.5
		}
		return model.LabelSuspicious, confidence
	case model.TriageLowRisk:
		return model.LabelSafe, 0.6
	default:
		return model.LabelSafe, 1.0
	}
}

// DetermineAction maps a verdict to the recommended moderation step.
func DetermineAction(label model.Label, confidence float64) model.Action {
	switch label {
	case model.LabelSafe:
		return model.ActionNone
	case model.LabelPhishing:
		return model.ActionFlagReview
	case model.LabelSuspicious:
		if confidence >= warnConfidenceThreshold {
			return model.ActionWarn
		}
		return model.ActionFlagReview
	default:
		return model.ActionFlagReview
	}
}
