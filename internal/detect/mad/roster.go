package mad

import (
	"fmt"
	"strings"

	"github.com/telephis/telephis/internal/model"
)

// Roster is a debate configuration: the agents, their vote weights,
// and the consensus/decision thresholds tuned for that panel size.
type Roster struct {
	Agents  []Agent
	Weights map[string]float64

	// Weighted-vote decision thresholds on P(phishing).
	PhishingThreshold   float64
	LegitimateThreshold float64

	// Early-termination consensus: at least ConsensusVotes agents
	// agreeing with average confidence >= ConsensusConfidence.
	ConsensusVotes      int
	ConsensusConfidence float64

	// Vote counts that qualify as strong_majority / majority when
	// labeling the consensus type. StrongMajorityVotes of 0 disables
	// the strong_majority label.
	StrongMajorityVotes int
	MajorityVotes       int

	// Sampling parameters per round kind.
	AnalyzeTemperature    float64
	DeliberateTemperature float64
	MaxTokens             int
}

// ApplyWeights overrides individual agent weights.
func (r *Roster) ApplyWeights(overrides map[string]float64) {
	for name, w := range overrides {
		if _, ok := r.Weights[name]; ok {
			r.Weights[name] = w
		}
	}
}

// ThreeAgentRoster is the default panel: content analysis, security
// validation, and social context. The security validator carries more
// weight since it argues from objective evidence.
func ThreeAgentRoster() *Roster {
	return &Roster{
		Agents: []Agent{
			{Name: "content_analyzer", System: contentAnalyzerSystem, buildPrompt: contentAnalyzerPrompt},
			{Name: "security_validator", System: securityValidatorSystem, buildPrompt: securityValidatorPrompt},
			{Name: "social_context", System: socialContextSystem, buildPrompt: socialContextPrompt},
		},
		Weights: map[string]float64{
			"content_analyzer":   1.0,
			"security_validator": 1.5,
			"social_context":     1.0,
		},
		PhishingThreshold:     0.65,
		LegitimateThreshold:   0.35,
		ConsensusVotes:        2,
		ConsensusConfidence:   0.75,
		MajorityVotes:         2,
		AnalyzeTemperature:    0.4,
		DeliberateTemperature: 0.3,
		MaxTokens:             400,
	}
}

// FiveAgentRoster is the adversarial panel: detector, critic,
// defender, fact checker, and judge. The judge and fact checker carry
// larger weight since they synthesize or verify evidence rather than
// only assert stance.
func FiveAgentRoster() *Roster {
	return &Roster{
		Agents: []Agent{
			{Name: "detector_agent", System: detectorSystem, buildPrompt: rolePrompt("Detector Agent",
				"Berikan deteksi awal seagresif mungkin berbasis indikator risiko.",
				"Jelaskan sinyal paling kuat yang mengarah ke phishing.",
				"Jika ada >=2 indikator risiko kuat, utamakan PHISHING.",
				"Gunakan SUSPICIOUS hanya bila bukti ambigu.")},
			{Name: "critic_agent", System: criticSystem, buildPrompt: rolePrompt("Critic Agent",
				"Cari alasan kenapa pesan bisa saja bukan phishing.",
				"Identifikasi kelemahan bukti atau kemungkinan false positive.",
				"Jika tetap berisiko tinggi, tetap boleh memilih PHISHING.")},
			{Name: "defender_agent", System: defenderSystem, buildPrompt: rolePrompt("Defender Agent",
				"Cari penjelasan yang valid jika pesan ini normal/legitimate.",
				"Tunjukkan bukti yang mendukung konteks akademik normal.",
				"Jika tidak bisa dipertahankan, turunkan stance ke SUSPICIOUS/PHISHING.")},
			{Name: "fact_checker_agent", System: factCheckerSystem, buildPrompt: rolePrompt("Fact Checker Agent",
				"Verifikasi klaim berbasis data faktual (URL checks, triage flags).",
				"Pisahkan fakta, asumsi, dan ketidakpastian.",
				"Beri confidence tinggi hanya jika bukti objektif kuat.")},
			{Name: "judge_agent", System: judgeSystem, buildPrompt: rolePrompt("Judge Agent",
				"Putuskan verdict awal yang paling seimbang dan defensible.",
				"Pertimbangkan cost false negative dan false positive.",
				"Jika ada indikasi kuat phishing, jangan default ke SUSPICIOUS.")},
		},
		Weights: map[string]float64{
			"detector_agent":     1.3,
			"critic_agent":       1.0,
			"defender_agent":     1.0,
			"fact_checker_agent": 1.6,
			"judge_agent":        1.8,
		},
		PhishingThreshold:     0.62,
		LegitimateThreshold:   0.38,
		ConsensusVotes:        4,
		ConsensusConfidence:   0.70,
		StrongMajorityVotes:   4,
		MajorityVotes:         3,
		AnalyzeTemperature:    0.2,
		DeliberateTemperature: 0.2,
		MaxTokens:             450,
	}
}

const contentAnalyzerSystem = `Kamu adalah Content Analyzer agent dalam sistem deteksi phishing.

Peran: Menganalisis konten pesan, pola linguistik, dan deviasi perilaku.

Fokus analisis:
1. Konsistensi gaya bahasa dengan baseline pengguna
2. Taktik social engineering (urgensi, otoritas palsu, ketakutan)
3. Relevansi konteks dengan aktivitas akademik grup
4. Anomali struktur dan format pesan
5. Penggunaan bahasa Indonesia yang tidak wajar

Output JSON:
{
  "stance": "PHISHING" | "SUSPICIOUS" | "LEGITIMATE",
  "confidence": 0.0-1.0,
  "key_arguments": ["argumen1", "argumen2", ...],
  "evidence": {
    "style_deviation": 0.0-1.0,
    "urgency_score": 0.0-1.0,
    "social_engineering_detected": true/false,
    "linguistic_anomalies": ["anomali1", ...]
  }
}`

const securityValidatorSystem = `Kamu adalah Security Validator agent dalam sistem deteksi phishing.

Peran: Memverifikasi URL, reputasi domain, dan bukti keamanan eksternal.

Fokus analisis:
1. Struktur URL (obfuscation, patterns mencurigakan)
2. Reputasi domain berdasarkan data yang tersedia
3. Verifikasi tujuan link
4. Kecocokan dengan database phishing historis
5. HTTPS vs HTTP, TLD analysis

Output JSON:
{
  "stance": "PHISHING" | "SUSPICIOUS" | "LEGITIMATE",
  "confidence": 0.0-1.0,
  "key_arguments": ["argumen1", "argumen2", ...],
  "evidence": {
    "url_risk_score": 0.0-1.0,
    "domain_trusted": true/false,
    "is_shortened": true/false,
    "tld_suspicious": true/false
  }
}`

const socialContextSystem = `Kamu adalah Social Context Evaluator agent dalam sistem deteksi phishing.

Peran: Mengevaluasi konteks sosial dan perilaku khusus untuk grup akademik.

Fokus analisis:
1. Pola perilaku historis pengirim
2. Kesesuaian waktu posting
3. Relevansi dengan aktivitas akademik yang sedang berlangsung
4. Dinamika sosial dalam grup mahasiswa
5. Apakah konten masuk akal untuk konteks akademik

Output JSON:
{
  "stance": "PHISHING" | "SUSPICIOUS" | "LEGITIMATE",
  "confidence": 0.0-1.0,
  "key_arguments": ["argumen1", "argumen2", ...],
  "evidence": {
    "behavior_anomaly_score": 0.0-1.0,
    "context_relevance": 0.0-1.0,
    "timing_appropriate": true/false,
    "academic_context_match": true/false
  }
}`

const detectorSystem = "Kamu adalah Detector Agent untuk deteksi phishing. " +
	"Prioritasmu adalah menemukan indikasi serangan secara cepat " +
	"berdasarkan pola social engineering, ancaman URL, dan anomali pesan. " +
	"WAJIB output JSON valid sesuai schema yang diminta user prompt."

const criticSystem = "Kamu adalah Critic Agent dalam debat deteksi phishing. " +
	"Peranmu adalah menguji ketahanan argumen, mencari lompatan logika, " +
	"dan menurunkan keyakinan jika bukti tidak cukup. " +
	"WAJIB output JSON valid sesuai schema yang diminta user prompt."

const defenderSystem = "Kamu adalah Defender Agent dalam debat deteksi phishing. " +
	"Peranmu membela kemungkinan LEGITIMATE secara rasional, " +
	"namun tetap patuh pada bukti objektif keamanan. " +
	"WAJIB output JSON valid sesuai schema yang diminta user prompt."

const factCheckerSystem = "Kamu adalah Fact Checker Agent untuk verifikasi klaim phishing. " +
	"Fokus pada validasi fakta: URL evidence, metadata, dan konsistensi data. " +
	"WAJIB output JSON valid sesuai schema yang diminta user prompt."

const judgeSystem = "Kamu adalah Judge Agent dalam sistem debat phishing. " +
	"Peranmu adalah menyeimbangkan deteksi agresif dan pencegahan false alarm, " +
	"lalu memberi putusan paling defensible. " +
	"WAJIB output JSON valid sesuai schema yang diminta user prompt."

// rolePrompt builds a round-1 prompt from the shared evidence block
// plus role-specific task lines.
func rolePrompt(title string, tasks ...string) func(Input) string {
	return func(in Input) string {
		var b strings.Builder
		fmt.Fprintf(&b, "=== Round 1: %s ===\n\n", title)
		appendSharedContext(&b, in)
		b.WriteString("\nTugas:\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		appendOutputContract(&b)
		return b.String()
	}
}

func contentAnalyzerPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("=== Analisis Konten Pesan ===\n\n")
	fmt.Fprintf(&b, "Pesan: %q\n", in.Message.Text)
	fmt.Fprintf(&b, "Panjang: %d karakter\n", len([]rune(in.Message.Text)))
	if !in.Message.SentAt.IsZero() {
		fmt.Fprintf(&b, "Waktu: %s\n", in.Message.SentAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	if in.Sender != nil && in.Sender.Username != "" {
		b.WriteString("Pengirim:\n")
		fmt.Fprintf(&b, "- Username: @%s\n", in.Sender.Username)
	}

	if in.Baseline != nil && in.Baseline.TotalMessages > 0 {
		b.WriteString("\nBaseline Pengguna:\n")
		fmt.Fprintf(&b, "- Rata-rata panjang pesan: %.0f\n", in.Baseline.AvgMsgLength)
		fmt.Fprintf(&b, "- Emoji usage rate: %.2f%%\n", in.Baseline.EmojiRate*100)
		fmt.Fprintf(&b, "- Total pesan historis: %d\n", in.Baseline.TotalMessages)
	}

	appendSingleShot(&b, in.SingleShot)

	if in.Triage != nil {
		b.WriteString("\nTriage Flags:\n")
		fmt.Fprintf(&b, "- Risk score: %d\n", in.Triage.RiskScore)
		fmt.Fprintf(&b, "- Triggered: %s\n", strings.Join(in.Triage.TriggeredFlags(), ", "))
	}

	b.WriteString("\nAnalisis konten pesan ini dan berikan stance Anda.")
	return b.String()
}

func securityValidatorPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("=== Validasi Keamanan URL ===\n\n")
	fmt.Fprintf(&b, "Pesan: %q\n\n", in.Message.Text)

	if in.Triage != nil && len(in.Triage.URLs) > 0 {
		b.WriteString("URLs ditemukan:\n")
		for _, u := range in.Triage.URLs {
			fmt.Fprintf(&b, "  - %s\n", u)
		}
	} else {
		b.WriteString("URLs: Tidak ada URL ditemukan\n")
	}

	if in.Triage != nil {
		b.WriteString("\nAnalisis URL (Triage):\n")
		fmt.Fprintf(&b, "- Whitelisted URLs: %s\n", strings.Join(in.Triage.WhitelistedURLs, ", "))
		fmt.Fprintf(&b, "- Risk score: %d\n", in.Triage.RiskScore)
		var urlFlags []string
		for _, f := range in.Triage.TriggeredFlags() {
			if strings.Contains(f, "url") || strings.Contains(f, "tld") || strings.Contains(f, "domain") {
				urlFlags = append(urlFlags, f)
			}
		}
		if len(urlFlags) > 0 {
			fmt.Fprintf(&b, "- URL-related flags: %s\n", strings.Join(urlFlags, ", "))
		}

		if len(in.Triage.URLChecks) > 0 {
			b.WriteString("\n=== Hasil Pemeriksaan Eksternal ===\n")
			for _, check := range in.Triage.URLChecks {
				fmt.Fprintf(&b, "\nURL: %s\n", check.URL)
				status := "AMAN"
				if check.IsMalicious {
					status = "BERBAHAYA"
				}
				fmt.Fprintf(&b, "  Status: %s\n", status)
				fmt.Fprintf(&b, "  Risk Score: %.2f\n", check.RiskScore)
				fmt.Fprintf(&b, "  Source: %s\n", check.Source)
				if len(check.Signals) > 0 {
					fmt.Fprintf(&b, "  Risk factors: %s\n", strings.Join(check.Signals, ", "))
				}
			}
		}
	}

	appendSingleShot(&b, in.SingleShot)

	b.WriteString("\nAnalisis keamanan URL dan berikan stance Anda.")
	return b.String()
}

func socialContextPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("=== Evaluasi Konteks Sosial ===\n\n")
	fmt.Fprintf(&b, "Pesan: %q\n", in.Message.Text)
	if !in.Message.SentAt.IsZero() {
		fmt.Fprintf(&b, "Waktu: %s\n", in.Message.SentAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	b.WriteString("Pengirim:\n")
	if in.Sender != nil && in.Sender.Username != "" {
		fmt.Fprintf(&b, "- Username: @%s\n", in.Sender.Username)
		if !in.Sender.JoinedAt.IsZero() {
			fmt.Fprintf(&b, "- Bergabung: %s\n", in.Sender.JoinedAt.Format("2006-01-02"))
		}
	} else {
		b.WriteString("- Username: tidak diketahui\n")
	}

	if in.Baseline != nil && in.Baseline.TotalMessages > 0 {
		b.WriteString("\nRiwayat Perilaku:\n")
		fmt.Fprintf(&b, "- Total pesan: %d\n", in.Baseline.TotalMessages)
		fmt.Fprintf(&b, "- URL sharing rate: %.2f%%\n", in.Baseline.URLShareRate*100)
		if len(in.Baseline.ActiveHours) > 0 {
			lo, hi := in.Baseline.ActiveHours[0], in.Baseline.ActiveHours[0]
			for _, h := range in.Baseline.ActiveHours[1:] {
				if h < lo {
					lo = h
				}
				if h > hi {
					hi = h
				}
			}
			fmt.Fprintf(&b, "- Jam aktif tipikal: %d:00 - %d:00\n", lo, hi)
		}
	} else {
		b.WriteString("\nRiwayat Perilaku: Tidak cukup data baseline\n")
	}

	if in.Triage != nil {
		var behavioral []string
		for _, f := range in.Triage.TriggeredFlags() {
			if strings.Contains(f, "anomaly") || strings.Contains(f, "first_time") {
				behavioral = append(behavioral, f)
			}
		}
		if len(behavioral) > 0 {
			fmt.Fprintf(&b, "\nAnomali perilaku terdeteksi: %s\n", strings.Join(behavioral, ", "))
		}
	}

	appendSingleShot(&b, in.SingleShot)

	b.WriteString("\nKonteks: Grup mahasiswa Teknik Informatika UIR\n")
	b.WriteString("Evaluasi apakah pesan ini sesuai dengan konteks sosial dan berikan stance Anda.")
	return b.String()
}

func appendSingleShot(b *strings.Builder, v *model.SingleShotVerdict) {
	if v == nil {
		return
	}
	b.WriteString("\nHasil Single-Shot LLM:\n")
	fmt.Fprintf(b, "- Classification: %s\n", v.Label)
	fmt.Fprintf(b, "- Confidence: %.0f%%\n", v.Confidence*100)
	if len(v.RiskFactors) > 0 {
		fmt.Fprintf(b, "- Risk factors: %s\n", strings.Join(v.RiskFactors, ", "))
	}
}
