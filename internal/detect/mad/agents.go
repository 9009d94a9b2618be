// Package mad implements the stage-3 multi-agent debate: a roster of
// specialized agents argues over bounded rounds and a weighted vote
// produces the final verdict.
package mad

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/pkg/llm"
)

// Input carries everything the debate sees about one message.
type Input struct {
	Message    model.Message
	Sender     *model.Sender
	Baseline   *model.BaselineSnapshot
	Triage     *model.TriageReport
	SingleShot *model.SingleShotVerdict
}

// Agent is one debate participant: a role prompt plus a per-role
// analysis prompt builder.
type Agent struct {
	Name   string
	System string

	buildPrompt func(in Input) string
}

// Analyze runs the agent's independent round-1 analysis. Model
// failures never propagate; they become a neutral fallback response.
func (a Agent) Analyze(ctx context.Context, gateway llm.Gateway, in Input, temperature float64, maxTokens int) model.AgentResponse {
	return a.query(ctx, gateway, a.buildPrompt(in), temperature, maxTokens)
}

// Deliberate runs a revision round: the agent sees the previous round
// and may change stance. On failure the previous stance stands.
func (a Agent) Deliberate(ctx context.Context, gateway llm.Gateway, in Input, own model.AgentResponse, others []model.AgentResponse, temperature float64, maxTokens int) model.AgentResponse {
	resp := a.query(ctx, gateway, deliberationPrompt(in, own, others), temperature, maxTokens)
	if resp.Fallback {
		kept := own
		kept.Usage = resp.Usage
		return kept
	}
	return resp
}

func (a Agent) query(ctx context.Context, gateway llm.Gateway, prompt string, temperature float64, maxTokens int) model.AgentResponse {
	resp, err := gateway.Generate(ctx, llm.Request{
		System:      a.System,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		zap.L().Warn("agent call failed",
			zap.String("agent", a.Name),
			zap.Error(err))
		return model.AgentResponse{
			Agent:      a.Name,
			Stance:     model.StanceSuspicious,
			Confidence: 0.5,
			Arguments:  []string{"Analysis failed: " + err.Error()},
			Fallback:   true,
		}
	}

	usage := model.TokenUsage{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens}
	if len(resp.Structured) == 0 {
		return model.AgentResponse{
			Agent:      a.Name,
			Stance:     model.StanceSuspicious,
			Confidence: 0.5,
			Arguments:  []string{"Model response was not parseable JSON."},
			Usage:      usage,
			Fallback:   true,
		}
	}

	stanceRaw := llm.ObjString(resp.Structured, "stance", "")
	stance := normalizeStance(stanceRaw)
	confidence := llm.Clamp01(llm.ObjFloat(resp.Structured, "confidence", 0.5))
	arguments := llm.ObjStrings(resp.Structured, "key_arguments")
	if stanceRaw == "" {
		// Missing stance is a soft failure: cap the confidence.
		if confidence > 0.6 {
			confidence = 0.6
		}
		if len(arguments) == 0 {
			arguments = []string{"Model response missing required 'stance' field."}
		}
	}

	evidence, _ := resp.Structured["evidence"].(map[string]any)

	return model.AgentResponse{
		Agent:      a.Name,
		Stance:     stance,
		Confidence: confidence,
		Arguments:  arguments,
		Evidence:   evidence,
		Usage:      usage,
	}
}

// normalizeStance maps model output aliases onto the stance vocabulary.
// Anything unrecognized is SUSPICIOUS.
func normalizeStance(raw string) model.Stance {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PHISHING", "MALICIOUS", "SCAM", "PENIPUAN", "BERBAHAYA":
		return model.StancePhishing
	case "LEGITIMATE", "LEGIT", "SAFE", "NORMAL", "AMAN":
		return model.StanceLegitimate
	default:
		return model.StanceSuspicious
	}
}

const outputSchema = `{"stance":"PHISHING|SUSPICIOUS|LEGITIMATE",` +
	`"confidence":0.0,` +
	`"key_arguments":["arg1","arg2"],` +
	`"evidence":{"key":"value"}}`

func appendOutputContract(b *strings.Builder) {
	b.WriteString("\nOutput WAJIB JSON valid tanpa markdown, komentar, atau trailing comma.\n")
	b.WriteString("Gunakan schema persis berikut:\n")
	b.WriteString(outputSchema)
}

// deliberationPrompt shows an agent its own previous stance and the
// other agents' positions.
func deliberationPrompt(in Input, own model.AgentResponse, others []model.AgentResponse) string {
	var b strings.Builder
	b.WriteString("=== Deliberasi ===\n\n")
	fmt.Fprintf(&b, "Pesan yang dianalisis: %q\n\n", in.Message.Text)

	b.WriteString("Analisis Anda di round sebelumnya:\n")
	fmt.Fprintf(&b, "- Stance: %s\n", own.Stance)
	fmt.Fprintf(&b, "- Confidence: %.0f%%\n", own.Confidence*100)
	fmt.Fprintf(&b, "- Argumen: %s\n\n", strings.Join(own.Arguments, "; "))

	b.WriteString("Analisis agent lain:\n")
	for _, r := range others {
		fmt.Fprintf(&b, "- %s: %s (%.0f%%)\n", r.Agent, r.Stance, r.Confidence*100)
		if len(r.Arguments) > 0 {
			fmt.Fprintf(&b, "  Argumen: %s\n", strings.Join(r.Arguments, "; "))
		}
	}

	if in.Triage != nil && len(in.Triage.URLChecks) > 0 {
		b.WriteString("\nData URL checker tersedia. Gunakan sebagai bukti objektif.\n")
	}

	b.WriteString("\nPertimbangkan argumen agent lain. Apakah ada blind spot dalam analisis Anda?\n")
	b.WriteString("Anda boleh mempertahankan atau mengubah stance jika ada bukti kuat.\n")
	appendOutputContract(&b)
	return b.String()
}

// appendSharedContext writes the evidence block every agent sees:
// message, sender, URLs, triage, baseline, and the single-shot result.
func appendSharedContext(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "Pesan: %q\n", in.Message.Text)
	if !in.Message.SentAt.IsZero() {
		fmt.Fprintf(b, "Waktu: %s\n", in.Message.SentAt.Format("2006-01-02 15:04"))
	}
	if in.Sender != nil && in.Sender.Username != "" {
		fmt.Fprintf(b, "Pengirim: @%s\n", in.Sender.Username)
	}

	if in.Triage != nil && len(in.Triage.URLs) > 0 {
		b.WriteString("URL ditemukan:\n")
		for _, u := range in.Triage.URLs {
			fmt.Fprintf(b, "- %s\n", u)
		}
	} else {
		b.WriteString("URL ditemukan: tidak ada\n")
	}

	if in.Triage != nil {
		fmt.Fprintf(b, "Triage risk score: %d\n", in.Triage.RiskScore)
		if flags := in.Triage.TriggeredFlags(); len(flags) > 0 {
			fmt.Fprintf(b, "Triage flags: %s\n", strings.Join(flags, ", "))
		}
		for _, check := range in.Triage.URLChecks {
			fmt.Fprintf(b, "URL checker: %s: malicious=%t, risk=%.2f (source: %s)\n",
				check.URL, check.IsMalicious, check.RiskScore, check.Source)
		}
	}

	if in.Baseline != nil && in.Baseline.TotalMessages > 0 {
		fmt.Fprintf(b, "Riwayat pesan user: %d\n", in.Baseline.TotalMessages)
		fmt.Fprintf(b, "URL sharing rate: %.2f%%\n", in.Baseline.URLShareRate*100)
	}

	if in.SingleShot != nil {
		fmt.Fprintf(b, "Single-shot: %s (%.0f%%)\n", in.SingleShot.Label, in.SingleShot.Confidence*100)
		b.WriteString("Catatan: pesan ini sudah di-eskalasi ke tahap debat karena dianggap berisiko atau belum meyakinkan di tahap sebelumnya.\n")
	}
}
