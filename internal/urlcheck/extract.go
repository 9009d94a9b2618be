// Package urlcheck implements URL extraction, expansion, and layered
// security checking for chat messages.
package urlcheck

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(
	`(?i)https?://[^\s<>"{}|\\^` + "`" + `\[\]]+` +
		`|(?:www\.)[^\s<>"{}|\\^` + "`" + `\[\]]+` +
		`|(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}/[^\s<>"{}|\\^` + "`" + `\[\]]*`)

// ExtractURLs finds all URLs in text, normalizing scheme-less matches
// to https and trimming trailing punctuation. Order of first
// appearance is preserved; duplicates are dropped.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}

	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		u := m
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			u = "https://" + u
		}
		u = strings.TrimRight(u, ".,;:!?)")
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// HasURL reports whether text contains at least one URL.
func HasURL(text string) bool {
	return urlPattern.MatchString(text)
}

// URLInfo is the structural breakdown of one URL.
type URLInfo struct {
	Original  string
	Domain    string
	TLD       string
	IsHTTPS   bool
	HasQuery  bool
	PathDepth int
}

// Analyze parses a URL into its structural parts.
func Analyze(raw string) URLInfo {
	u := raw
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return URLInfo{Original: u}
	}

	domain := strings.ToLower(parsed.Hostname())
	domain = strings.TrimPrefix(domain, "www.")

	var tld string
	if parts := strings.Split(domain, "."); len(parts) > 1 {
		tld = "." + parts[len(parts)-1]
	}

	var pathDepth int
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		pathDepth = len(strings.Split(path, "/"))
	}

	return URLInfo{
		Original:  u,
		Domain:    domain,
		TLD:       tld,
		IsHTTPS:   parsed.Scheme == "https",
		HasQuery:  parsed.RawQuery != "",
		PathDepth: pathDepth,
	}
}

// Domain extracts the lowercased host of a URL, stripping scheme,
// leading www., path, and port.
func Domain(raw string) string {
	u := strings.ToLower(raw)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	u = strings.SplitN(u, "/", 2)[0]
	return strings.SplitN(u, ":", 2)[0]
}
