// Package singleshot implements the stage-2 classifier: one model
// call producing a verdict and a routing decision. It may finalize
// only high-confidence SAFE; everything else escalates to the debate.
package singleshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/telephis/telephis/internal/model"
)

// SystemPrompt frames the classifier for the Indonesian academic
// group threat model.
const SystemPrompt = `Kamu adalah sistem deteksi phishing untuk grup Telegram akademik Indonesia.
Tugasmu: Menganalisis apakah pesan dari akun mahasiswa terverifikasi menunjukkan tanda-tanda akun yang disusupi atau upaya phishing.

Konteks:
- Grup: Mahasiswa Teknik Informatika, Universitas Islam Riau (UIR)
- Konten tipikal: diskusi akademik, informasi akademik, pengumuman event kampus
- Model ancaman: Akun mahasiswa yang dikompromikan mengirimkan link phishing

Kriteria Phishing:
1. URL mencurigakan (shortened, TLD aneh, domain mirip tapi beda)
2. Taktik social engineering (urgensi berlebihan, otoritas palsu, ketakutan)
3. Permintaan data sensitif (password, OTP, transfer uang)
4. Perilaku tidak konsisten dengan baseline pengguna
5. Konteks tidak relevan dengan aktivitas akademik

Kriteria Legitimate:
1. URL dari domain terpercaya (kampus, Google, GitHub, dll)
2. Konteks sesuai aktivitas akademik
3. Gaya pesan konsisten dengan pengguna
4. Tidak ada indikator social engineering
5. URL shortener tidak otomatis berbahaya jika expanded URL mengarah ke domain terpercaya

Output dalam format JSON strict:
{
  "classification": "SAFE" | "SUSPICIOUS" | "PHISHING",
  "confidence": 0.0-1.0,
  "reasoning": "penjelasan singkat dalam Bahasa Indonesia",
  "risk_factors": ["faktor1", "faktor2", ...]
}

PENTING:
- Berikan confidence tinggi (>0.85) hanya jika sangat yakin
- Gunakan "SUSPICIOUS" jika ragu antara SAFE dan PHISHING
- Jangan memberi label PHISHING hanya karena URL shortener jika evidence expand/trusted mendukung LEGITIMATE
- Pertimbangkan konteks grup akademik Indonesia`

// BuildPrompt assembles the analysis request: sender, baseline,
// message, and triage evidence.
func BuildPrompt(msg model.Message, sender *model.Sender, baseline *model.BaselineSnapshot, report *model.TriageReport) string {
	var b strings.Builder
	b.WriteString("=== Permintaan Analisis Pesan ===\n\n")

	if sender != nil && sender.Username != "" {
		fmt.Fprintf(&b, "Pengirim: @%s\n", sender.Username)
		if !sender.JoinedAt.IsZero() {
			fmt.Fprintf(&b, "Bergabung: %s\n", sender.JoinedAt.Format("2006-01-02"))
		}
	} else {
		b.WriteString("Pengirim: (tidak diketahui)\n")
	}
	b.WriteString("\n")

	if baseline != nil && baseline.TotalMessages > 0 {
		b.WriteString("Perilaku Baseline:\n")
		if baseline.AvgMsgLength > 0 {
			fmt.Fprintf(&b, "- Rata-rata panjang pesan: %.0f karakter\n", baseline.AvgMsgLength)
		}
		if len(baseline.ActiveHours) > 0 {
			lo, hi := hourRange(baseline.ActiveHours)
			fmt.Fprintf(&b, "- Jam posting tipikal: %02d:00 - %02d:00\n", lo, hi)
		}
		fmt.Fprintf(&b, "- Frekuensi share URL: %.2f%% per pesan\n", baseline.URLShareRate*100)
		fmt.Fprintf(&b, "- Total pesan historis: %d\n", baseline.TotalMessages)
	} else {
		b.WriteString("Perilaku Baseline: (belum cukup data)\n")
	}
	b.WriteString("\n")

	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	b.WriteString("Pesan Saat Ini:\n")
	fmt.Fprintf(&b, "- Waktu: %s WIB\n", sentAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- Panjang: %d karakter\n", len([]rune(msg.Text)))
	b.WriteString("- Isi pesan:\n")
	fmt.Fprintf(&b, "  %q\n", msg.Text)
	b.WriteString("\n")

	if report != nil {
		b.WriteString("Hasil Triage (rule-based):\n")
		fmt.Fprintf(&b, "- Risk Score: %d/100\n", report.RiskScore)
		if flags := report.TriggeredFlags(); len(flags) > 0 {
			fmt.Fprintf(&b, "- Red Flags: %s\n", strings.Join(flags, ", "))
		}
		if len(report.URLs) > 0 {
			fmt.Fprintf(&b, "- URLs ditemukan: %s\n", strings.Join(report.URLs, ", "))
		}
		if len(report.WhitelistedURLs) > 0 {
			fmt.Fprintf(&b, "- URLs whitelisted: %s\n", strings.Join(report.WhitelistedURLs, ", "))
		}
		if len(report.URLChecks) > 0 {
			b.WriteString("- Evidence ekspansi URL:\n")
			for _, check := range report.URLChecks {
				switch {
				case check.Source == model.CheckSourceExpandFailed:
					fmt.Fprintf(&b, "  - %s -> gagal expand\n", check.URL)
				case check.FinalURL != "":
					fmt.Fprintf(&b, "  - %s -> %s (source: %s)\n", check.URL, check.FinalURL, check.Source)
				default:
					fmt.Fprintf(&b, "  - %s (source: %s, risk: %.2f)\n", check.URL, check.Source, check.RiskScore)
				}
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Analisis pesan ini dan berikan klasifikasi dalam format JSON.")
	return b.String()
}

func hourRange(hours []int) (lo, hi int) {
	lo, hi = hours[0], hours[0]
	for _, h := range hours[1:] {
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	return lo, hi
}
