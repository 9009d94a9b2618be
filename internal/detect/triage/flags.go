// Package triage implements the rule-based first stage: red-flag
// scanning, behavioral anomaly detection, and risk scoring. It never
// calls a model.
package triage

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/urlcheck"
)

// Urgency keywords (Indonesian). Two or more matches raise a flag.
var urgencyKeywords = []string{
	"segera", "mendesak", "urgent", "buruan", "cepat",
	"sekarang juga", "hari ini", "batas waktu", "deadline",
	"jangan sampai", "terlewat", "kesempatan terakhir",
	"limited", "terbatas", "akan berakhir", "expired",
	"hanya hari ini", "promo", "gratis", "hadiah",
	"verifikasi", "diblokir", "ditangguhkan",
}

// Phishing indicator keywords (Indonesian).
var phishingKeywords = []string{
	"verifikasi akun", "konfirmasi data", "update data",
	"akun diblokir", "akun ditangguhkan", "akun bermasalah",
	"transfer", "kirim uang", "bayar", "pembayaran",
	"hadiah", "menang", "pemenang", "undian", "lottery",
	"klik link", "klik disini", "klik sekarang",
	"login sekarang", "masuk sekarang",
	"password", "kata sandi", "pin", "otp",
	"data pribadi", "nomor rekening", "kartu kredit",
	"beasiswa penuh", "lowongan kerja", "gaji tinggi",
	"investasi", "keuntungan besar", "cuan", "pinjaman", "modal", "utang",
	"amanah", "dana", "keuangan", "cair",
}

// Authority impersonation patterns.
var authorityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`dari\s+(pihak\s+)?(kampus|universitas|uir|rektorat|dekanat)`),
	regexp.MustCompile(`(admin|operator)\s+(resmi|official)`),
	regexp.MustCompile(`pengumuman\s+(penting|resmi)`),
	regexp.MustCompile(`surat\s+edaran`),
}

var consecutivePunctRe = regexp.MustCompile(`[!?]{3,}`)

// Scanner finds red flags in URLs and message text.
type Scanner struct {
	blacklisted map[string]struct{}
}

// NewScanner creates a scanner, optionally seeded with known scam
// domains.
func NewScanner(blacklist ...string) *Scanner {
	s := &Scanner{blacklisted: make(map[string]struct{}, len(blacklist))}
	for _, d := range blacklist {
		s.Blacklist(d)
	}
	return s
}

// Blacklist registers a scam domain.
func (s *Scanner) Blacklist(domain string) {
	s.blacklisted[urlcheck.Domain(domain)] = struct{}{}
}

// IsBlacklisted reports whether the URL's domain is a known scam
// domain.
func (s *Scanner) IsBlacklisted(rawURL string) bool {
	_, ok := s.blacklisted[urlcheck.Domain(rawURL)]
	return ok
}

// ScanURL raises flags for one URL.
func (s *Scanner) ScanURL(rawURL string) []model.RedFlag {
	var flags []model.RedFlag

	if s.IsBlacklisted(rawURL) {
		flags = append(flags, model.RedFlag{
			Type:        "blacklisted_domain",
			Description: "URL domain is blacklisted",
			Severity:    10,
			Matched:     urlcheck.Domain(rawURL),
		})
	}

	if urlcheck.IsShortener(rawURL) {
		flags = append(flags, model.RedFlag{
			Type:        "shortened_url",
			Description: "URL uses shortener service (hides destination)",
			Severity:    6,
			Matched:     urlcheck.Domain(rawURL),
		})
	}

	if urlcheck.HasSuspiciousTLD(rawURL) {
		flags = append(flags, model.RedFlag{
			Type:        "suspicious_tld",
			Description: "URL uses suspicious TLD",
			Severity:    5,
			Matched:     rawURL,
		})
	}

	return flags
}

// ScanText raises flags for the message body.
func (s *Scanner) ScanText(text string) []model.RedFlag {
	var flags []model.RedFlag
	lower := strings.ToLower(text)

	urgencyCount := 0
	for _, kw := range urgencyKeywords {
		if strings.Contains(lower, kw) {
			urgencyCount++
		}
	}
	if urgencyCount >= 2 {
		flags = append(flags, model.RedFlag{
			Type:        "urgency_keywords",
			Description: fmt.Sprintf("multiple urgency keywords detected (%d)", urgencyCount),
			Severity:    min(4+urgencyCount, 8),
			Matched:     fmt.Sprintf("%d", urgencyCount),
		})
	}

	var found []string
	for _, kw := range phishingKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	if len(found) > 0 {
		sample := found
		if len(sample) > 3 {
			sample = sample[:3]
		}
		flags = append(flags, model.RedFlag{
			Type:        "phishing_keywords",
			Description: "phishing indicator keywords: " + strings.Join(sample, ", "),
			Severity:    min(5+len(found), 9),
			Matched:     strings.Join(found, ", "),
		})
	}

	if ratio := CapsRatio(text); ratio > 0.5 {
		flags = append(flags, model.RedFlag{
			Type:        "caps_lock_abuse",
			Description: fmt.Sprintf("excessive caps lock usage (%.0f%%)", ratio*100),
			Severity:    4,
			Matched:     fmt.Sprintf("%.0f%%", ratio*100),
		})
	}

	if hasExcessivePunctuation(text) {
		flags = append(flags, model.RedFlag{
			Type:        "excessive_punctuation",
			Description: "excessive exclamation/question marks",
			Severity:    3,
		})
	}

	for _, pattern := range authorityPatterns {
		if m := pattern.FindString(lower); m != "" {
			flags = append(flags, model.RedFlag{
				Type:        "authority_impersonation",
				Description: "potential authority impersonation detected",
				Severity:    7,
				Matched:     m,
			})
			break
		}
	}

	return flags
}

// CapsRatio returns the fraction of letters that are uppercase.
func CapsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// More than 3 consecutive or more than 5 total marks.
func hasExcessivePunctuation(text string) bool {
	if consecutivePunctRe.MatchString(text) {
		return true
	}
	return strings.Count(text, "!")+strings.Count(text, "?") > 5
}
