package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephis/telephis/internal/detect/mad"
	"github.com/telephis/telephis/internal/detect/singleshot"
	"github.com/telephis/telephis/internal/detect/triage"
	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/pkg/llm"
)

// stageGateway answers the single-shot classifier and the debate
// agents with fixed responses, keyed off the system prompt.
type stageGateway struct {
	mu         sync.Mutex
	classifier *llm.Response
	agent      *llm.Response
	ssCalls    int
	agentCalls int
}

func (g *stageGateway) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req.System == singleshot.SystemPrompt {
		g.ssCalls++
		return g.classifier, nil
	}
	g.agentCalls++
	return g.agent, nil
}

func (g *stageGateway) Provider() string { return "stage" }
func (g *stageGateway) Model() string    { return "stage-model" }

func classifierResp(classification string, confidence float64) *llm.Response {
	return &llm.Response{
		Structured: map[string]any{
			"classification": classification,
			"confidence":     confidence,
			"reasoning":      "uji",
		},
		Usage: llm.Usage{InputTokens: 120, OutputTokens: 40},
	}
}

func agentResp(stance string, confidence float64) *llm.Response {
	return &llm.Response{
		Structured: map[string]any{
			"stance":     stance,
			"confidence": confidence,
		},
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
}

func newTestPipeline(gw llm.Gateway, opts ...Option) *Pipeline {
	return New(
		triage.New(),
		singleshot.New(gw),
		mad.New(gw, mad.ThreeAgentRoster()),
		opts...,
	)
}

func msgAt(text string) model.Message {
	return model.Message{
		ID:       "m1",
		ChatID:   "c1",
		SenderID: "u1",
		Text:     text,
		SentAt:   time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeTrustedMessageFinalizesAtTriage(t *testing.T) {
	gw := &stageGateway{}
	p := newTestPipeline(gw)

	result := p.Analyze(context.Background(), msgAt("Materi: https://elearning.uir.ac.id/c/1"), nil, nil)

	assert.Equal(t, model.LabelSafe, result.Label)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, model.StageTriage, result.Stage)
	assert.Equal(t, model.ActionNone, result.Action)
	assert.Zero(t, result.Usage.Total())
	assert.Zero(t, gw.ssCalls, "no model call for trivially safe traffic")
	require.NotNil(t, result.Trace.Triage)
	assert.Nil(t, result.Trace.SingleShot)
	assert.Nil(t, result.Trace.Debate)
}

func TestAnalyzeHighConfidenceSafeFinalizesAtSingleShot(t *testing.T) {
	gw := &stageGateway{classifier: classifierResp("SAFE", 0.95)}
	p := newTestPipeline(gw)

	result := p.Analyze(context.Background(), msgAt("Tulisan baru: https://contoh-blog-saya.com/a"), nil, nil)

	assert.Equal(t, model.LabelSafe, result.Label)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Equal(t, model.StageSingleShot, result.Stage)
	assert.Equal(t, model.ActionNone, result.Action)
	assert.Equal(t, model.TokenUsage{Input: 120, Output: 40}, result.Usage)
	assert.Equal(t, 1, gw.ssCalls)
	assert.Zero(t, gw.agentCalls, "no debate when the classifier finalizes")
	assert.Nil(t, result.Trace.Debate)
}

func TestAnalyzePhishingEscalatesToDebate(t *testing.T) {
	gw := &stageGateway{
		classifier: classifierResp("PHISHING", 0.9),
		agent:      agentResp("PHISHING", 0.9),
	}
	p := newTestPipeline(gw)

	text := "SEGERA verifikasi akun anda! Klik link berikut sebelum akun diblokir http://bit.ly/abc123"
	result := p.Analyze(context.Background(), msgAt(text), nil, nil)

	assert.Equal(t, model.LabelPhishing, result.Label)
	assert.Equal(t, model.StageMAD, result.Stage)
	assert.Equal(t, model.ActionFlagReview, result.Action, "phishing is flagged, never auto-deleted")
	assert.Equal(t, 3, gw.agentCalls, "unanimous first round terminates the debate")
	// classifier 160 + three agents at 150 each
	assert.Equal(t, 610, result.Usage.Total())
	require.NotNil(t, result.Trace.Debate)
	assert.Equal(t, model.StopConsensus, result.Trace.Debate.StopReason)
}

func TestAnalyzeDebateLegitimateMapsToSafe(t *testing.T) {
	gw := &stageGateway{
		classifier: classifierResp("SUSPICIOUS", 0.6),
		agent:      agentResp("LEGITIMATE", 0.9),
	}
	p := newTestPipeline(gw)

	result := p.Analyze(context.Background(), msgAt("Cek https://contoh-blog-saya.com/a ya"), nil, nil)

	assert.Equal(t, model.LabelSafe, result.Label)
	assert.Equal(t, model.StageMAD, result.Stage)
	assert.Equal(t, model.ActionNone, result.Action)
}

func TestAnalyzePersistsThroughRecorder(t *testing.T) {
	saved := make(chan *model.DetectionResult, 1)
	rec := recorderFunc(func(ctx context.Context, r *model.DetectionResult) error {
		saved <- r
		return nil
	})

	p := newTestPipeline(&stageGateway{}, WithRecorder(rec))

	result := p.Analyze(context.Background(), msgAt("halo semua"), nil, nil)

	select {
	case got := <-saved:
		assert.Equal(t, result.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("result was not persisted")
	}
}

func TestAnalyzeWithPrecomputedChecksBypassesOwnChecker(t *testing.T) {
	gw := &stageGateway{
		classifier: classifierResp("SUSPICIOUS", 0.5),
		agent:      agentResp("SUSPICIOUS", 0.5),
	}
	p := newTestPipeline(gw)

	url := "https://bit.ly/presensi"
	checks := map[string]model.URLCheckResult{
		url: {
			URL:      url,
			FinalURL: "https://elearning.uir.ac.id/presensi",
			Source:   model.CheckSourceWhitelist,
		},
	}

	msg := msgAt("Link presensi: " + url)
	result := p.AnalyzeWithChecks(context.Background(), msg, nil, nil, checks)

	assert.Equal(t, model.StageTriage, result.Stage)
	assert.Equal(t, model.LabelSafe, result.Label)
	assert.Zero(t, gw.ssCalls, "the supplied verdict resolves the shortener without a model call")
	require.NotNil(t, result.Trace.Triage)
	require.Len(t, result.Trace.Triage.URLChecks, 1)
	assert.Equal(t, model.CheckSourceWhitelist, result.Trace.Triage.URLChecks[0].Source)

	// Without supplied checks the same shortener stays unresolved and
	// the message escalates past triage.
	unresolved := p.Analyze(context.Background(), msg, nil, nil)
	assert.NotEqual(t, model.StageTriage, unresolved.Stage)
}

func TestAnalyzeStageCapAtTriage(t *testing.T) {
	gw := &stageGateway{}
	p := newTestPipeline(gw)
	p.CapStage(model.StageTriage)

	text := "SEGERA verifikasi akun anda! Klik link berikut sebelum akun diblokir http://bit.ly/abc123"
	result := p.Analyze(context.Background(), msgAt(text), nil, nil)

	assert.Equal(t, model.StageTriage, result.Stage)
	assert.Equal(t, model.LabelSuspicious, result.Label)
	assert.Zero(t, gw.ssCalls, "capped run never reaches the model")
}

func TestAnalyzeStageCapAtSingleShot(t *testing.T) {
	gw := &stageGateway{classifier: classifierResp("PHISHING", 0.9)}
	p := newTestPipeline(gw)
	p.CapStage(model.StageSingleShot)

	text := "SEGERA verifikasi akun anda! Klik link berikut sebelum akun diblokir http://bit.ly/abc123"
	result := p.Analyze(context.Background(), msgAt(text), nil, nil)

	assert.Equal(t, model.StageSingleShot, result.Stage)
	assert.Equal(t, model.LabelPhishing, result.Label)
	assert.Zero(t, gw.agentCalls, "capped run never debates")
}

type recorderFunc func(ctx context.Context, r *model.DetectionResult) error

func (f recorderFunc) SaveResult(ctx context.Context, r *model.DetectionResult) error {
	return f(ctx, r)
}

func TestDetermineAction(t *testing.T) {
	tests := []struct {
		label      model.Label
		confidence float64
		want       model.Action
	}{
		{model.LabelSafe, 0.99, model.ActionNone},
		{model.LabelPhishing, 0.99, model.ActionFlagReview},
		{model.LabelPhishing, 0.30, model.ActionFlagReview},
		{model.LabelSuspicious, 0.75, model.ActionWarn},
		{model.LabelSuspicious, 0.60, model.ActionWarn},
		{model.LabelSuspicious, 0.55, model.ActionFlagReview},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetermineAction(tt.label, tt.confidence),
			"%s at %.2f", tt.label, tt.confidence)
	}
}
