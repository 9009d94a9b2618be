package mad

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/pkg/llm"
)

// scriptGateway returns pre-scripted responses per system prompt, in
// call order. Unscripted calls fail the test.
type scriptGateway struct {
	t  *testing.T
	mu sync.Mutex

	script map[string][]scriptStep
	calls  map[string]int
}

type scriptStep struct {
	resp *llm.Response
	err  error
}

func newScriptGateway(t *testing.T) *scriptGateway {
	return &scriptGateway{
		t:      t,
		script: make(map[string][]scriptStep),
		calls:  make(map[string]int),
	}
}

func (g *scriptGateway) on(system string, steps ...scriptStep) {
	g.script[system] = append(g.script[system], steps...)
}

func (g *scriptGateway) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	steps := g.script[req.System]
	i := g.calls[req.System]
	g.calls[req.System] = i + 1
	if i >= len(steps) {
		g.t.Errorf("unscripted call %d for system %q", i, req.System)
		return nil, assert.AnError
	}
	return steps[i].resp, steps[i].err
}

func (g *scriptGateway) Provider() string { return "script" }
func (g *scriptGateway) Model() string    { return "script-model" }

func stanceResp(stance string, conf float64, args ...string) scriptStep {
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	return scriptStep{resp: &llm.Response{
		Structured: map[string]any{
			"stance":        stance,
			"confidence":    conf,
			"key_arguments": anyArgs,
		},
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 50},
	}}
}

func testAgent(name, system string) Agent {
	return Agent{
		Name:        name,
		System:      system,
		buildPrompt: func(in Input) string { return "analisis: " + in.Message.Text },
	}
}

func testInput() Input {
	return Input{Message: model.Message{ID: "m1", Text: "cek https://bit.ly/x"}}
}

func TestAgentAnalyze(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.9, "url mencurigakan"))

	a := testAgent("a", "sys-a")
	resp := a.Analyze(context.Background(), gw, testInput(), 0.4, 400)

	assert.Equal(t, "a", resp.Agent)
	assert.Equal(t, model.StancePhishing, resp.Stance)
	assert.Equal(t, 0.9, resp.Confidence)
	assert.Equal(t, []string{"url mencurigakan"}, resp.Arguments)
	assert.Equal(t, model.TokenUsage{Input: 100, Output: 50}, resp.Usage)
	assert.False(t, resp.Fallback)
}

func TestAgentAnalyzeErrorFallsBackToSuspicious(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", scriptStep{err: assert.AnError})

	a := testAgent("a", "sys-a")
	resp := a.Analyze(context.Background(), gw, testInput(), 0.4, 400)

	assert.Equal(t, model.StanceSuspicious, resp.Stance)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.True(t, resp.Fallback)
}

func TestAgentMissingStanceCapsConfidence(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", scriptStep{resp: &llm.Response{
		Structured: map[string]any{"confidence": 0.95},
	}})

	a := testAgent("a", "sys-a")
	resp := a.Analyze(context.Background(), gw, testInput(), 0.4, 400)

	assert.Equal(t, model.StanceSuspicious, resp.Stance)
	assert.Equal(t, 0.6, resp.Confidence)
	require.NotEmpty(t, resp.Arguments)
	assert.Contains(t, resp.Arguments[0], "missing required 'stance'")
	assert.False(t, resp.Fallback, "missing stance is a soft failure, not a fallback")
}

func TestAgentUnparseableOutputIsFallback(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", scriptStep{resp: &llm.Response{
		Text:  "bukan JSON",
		Usage: llm.Usage{InputTokens: 60, OutputTokens: 5},
	}})

	a := testAgent("a", "sys-a")
	resp := a.Analyze(context.Background(), gw, testInput(), 0.4, 400)

	assert.True(t, resp.Fallback)
	assert.Equal(t, model.StanceSuspicious, resp.Stance)
	assert.Equal(t, model.TokenUsage{Input: 60, Output: 5}, resp.Usage)
}

func TestAgentDeliberateKeepsStanceOnFailure(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", scriptStep{err: assert.AnError})

	a := testAgent("a", "sys-a")
	own := model.AgentResponse{
		Agent:      "a",
		Stance:     model.StancePhishing,
		Confidence: 0.85,
		Arguments:  []string{"argumen awal"},
		Usage:      model.TokenUsage{Input: 100, Output: 50},
	}

	resp := a.Deliberate(context.Background(), gw, testInput(), own, nil, 0.3, 400)

	assert.Equal(t, model.StancePhishing, resp.Stance)
	assert.Equal(t, 0.85, resp.Confidence)
	assert.Equal(t, []string{"argumen awal"}, resp.Arguments)
	assert.Zero(t, resp.Usage.Total(), "failed call spent nothing")
}

func TestAgentDeliberateRevisesStance(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("LEGITIMATE", 0.8, "bukti baru"))

	a := testAgent("a", "sys-a")
	own := model.AgentResponse{Agent: "a", Stance: model.StancePhishing, Confidence: 0.7}
	others := []model.AgentResponse{
		{Agent: "b", Stance: model.StanceLegitimate, Confidence: 0.9, Arguments: []string{"domain terpercaya"}},
	}

	resp := a.Deliberate(context.Background(), gw, testInput(), own, others, 0.3, 400)

	assert.Equal(t, model.StanceLegitimate, resp.Stance)
	assert.Equal(t, 0.8, resp.Confidence)
}

func TestNormalizeStance(t *testing.T) {
	tests := map[string]model.Stance{
		"PHISHING":   model.StancePhishing,
		"penipuan":   model.StancePhishing,
		"Malicious":  model.StancePhishing,
		"LEGITIMATE": model.StanceLegitimate,
		"aman":       model.StanceLegitimate,
		"safe":       model.StanceLegitimate,
		"SUSPICIOUS": model.StanceSuspicious,
		"entahlah":   model.StanceSuspicious,
		"":           model.StanceSuspicious,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeStance(in), in)
	}
}

func TestDeliberationPromptContent(t *testing.T) {
	own := model.AgentResponse{Stance: model.StancePhishing, Confidence: 0.8, Arguments: []string{"url pendek"}}
	others := []model.AgentResponse{
		{Agent: "b", Stance: model.StanceLegitimate, Confidence: 0.9, Arguments: []string{"konteks normal"}},
	}
	in := testInput()
	in.Triage = &model.TriageReport{URLChecks: []model.URLCheckResult{{URL: "https://bit.ly/x"}}}

	prompt := deliberationPrompt(in, own, others)

	assert.Contains(t, prompt, "Stance: PHISHING")
	assert.Contains(t, prompt, "Confidence: 80%")
	assert.Contains(t, prompt, "b: LEGITIMATE (90%)")
	assert.Contains(t, prompt, "konteks normal")
	assert.Contains(t, prompt, "Data URL checker tersedia")
	assert.Contains(t, prompt, outputSchema)
}
