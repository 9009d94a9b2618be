package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Some providers wrap JSON in markdown fences, emit a bare label, or
// leave trailing commas. Parsing stays tolerant so classifiers and
// agents fall back to safe defaults instead of failing the stage.

var (
	fenceOpenRe  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("\\s*```$")

	bareLabelRe = regexp.MustCompile(`(?i)^(PHISHING|SUSPICIOUS|LEGITIMATE|SAFE|AMAN|MENCURIGAKAN|PENIPUAN)\b(?:\s*[\-:,(].*)?$`)

	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

	classificationRe = regexp.MustCompile(`(?i)\b(?:classification|klasifikasi)\b\s*[:=]\s*"?\s*(SAFE|SUSPICIOUS|PHISHING|AMAN|MENCURIGAKAN|PENIPUAN)\b`)
	stanceRe         = regexp.MustCompile(`(?i)\b(?:stance|verdict|putusan)\b\s*[:=]\s*"?\s*(PHISHING|SUSPICIOUS|LEGITIMATE|SAFE|AMAN|MENCURIGAKAN|PENIPUAN)\b`)
	confidenceRe     = regexp.MustCompile(`(?i)\b(?:confidence|keyakinan)\b\s*[:=]?\s*"?\s*([0-9]+(?:\.[0-9]+)?)\s*%?`)
)

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		t = fenceOpenRe.ReplaceAllString(t, "")
		t = fenceCloseRe.ReplaceAllString(t, "")
	}
	return strings.TrimSpace(t)
}

// NormalizeLabel maps Indonesian and common label variants onto the
// SAFE/SUSPICIOUS/PHISHING vocabulary. Unknown labels pass through
// uppercased.
func NormalizeLabel(label string) string {
	t := strings.ToUpper(strings.TrimSpace(label))
	switch t {
	case "AMAN", "LEGIT", "LEGITIMATE", "SAFE":
		return "SAFE"
	case "MENCURIGAKAN", "SUSPICIOUS":
		return "SUSPICIOUS"
	case "PENIPUAN", "PHISHING", "SCAM", "BERBAHAYA", "MALICIOUS":
		return "PHISHING"
	}
	return t
}

// labelPayload builds a minimal object for bare-label outputs, carrying
// both a classification and a stance where derivable.
func labelPayload(label string) map[string]any {
	raw := strings.ToUpper(strings.TrimSpace(label))
	out := map[string]any{}

	if raw == "LEGITIMATE" {
		out["stance"] = "LEGITIMATE"
		out["classification"] = "SAFE"
		return out
	}

	norm := NormalizeLabel(label)
	switch norm {
	case "SAFE":
		out["classification"] = "SAFE"
		out["stance"] = "LEGITIMATE"
	case "SUSPICIOUS", "PHISHING":
		out["classification"] = norm
		out["stance"] = norm
	}
	return out
}

// ParseObject best-effort parses a JSON object from an LLM response.
// Returns an empty map when nothing usable can be extracted.
func ParseObject(text string) map[string]any {
	t := stripFences(text)
	if t == "" {
		return map[string]any{}
	}

	// Small models sometimes answer with just a label.
	firstLine := strings.TrimSpace(strings.SplitN(t, "\n", 2)[0])
	if m := bareLabelRe.FindStringSubmatch(firstLine); m != nil {
		if payload := labelPayload(m[1]); len(payload) > 0 {
			return payload
		}
	}

	candidates := []string{t}
	if first, last := strings.Index(t, "{"), strings.LastIndex(t, "}"); first != -1 && last > first {
		candidates = append(candidates, t[first:last+1])
	}

	for _, candidate := range candidates {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return parsed
		}

		repaired := trailingCommaRe.ReplaceAllString(candidate, "$1")
		if err := json.Unmarshal([]byte(repaired), &parsed); err == nil {
			return parsed
		}
	}

	// Last resort: pull the few fields the pipeline actually reads out
	// of free-form text.
	out := map[string]any{}
	if m := classificationRe.FindStringSubmatch(t); m != nil {
		out["classification"] = NormalizeLabel(m[1])
	}
	if m := stanceRe.FindStringSubmatch(t); m != nil {
		payload := labelPayload(m[1])
		if s, ok := payload["stance"]; ok {
			out["stance"] = s
		}
		if c, ok := payload["classification"]; ok {
			if _, exists := out["classification"]; !exists {
				out["classification"] = c
			}
		}
	}
	if m := confidenceRe.FindStringSubmatch(t); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if v > 1.0 {
				v /= 100.0
			}
			out["confidence"] = Clamp01(v)
		}
	}
	return out
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ObjString extracts a string field, returning def when absent.
func ObjString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ObjFloat extracts a numeric field, tolerating string-encoded numbers.
func ObjFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64); err == nil {
			if f > 1.0 && strings.Contains(v, "%") {
				f /= 100.0
			}
			return f
		}
	}
	return def
}

// ObjStrings extracts a []string field, stringifying mixed elements.
func ObjStrings(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
