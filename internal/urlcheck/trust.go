package urlcheck

// Shortener services. A shortener is not itself a phishing signal;
// what matters is the destination domain after expansion.
var shortenerDomains = map[string]struct{}{
	"bit.ly":      {},
	"tinyurl.com": {},
	"goo.gl":      {},
	"t.co":        {},
	"ow.ly":       {},
	"is.gd":       {},
	"buff.ly":     {},
	"adf.ly":      {},
	"j.mp":        {},
	"tr.im":       {},
	"shorte.st":   {},
	"cutt.ly":     {},
	"rb.gy":       {},
	"shorturl.at": {},
	"s.id":        {},
	"linktr.ee":   {},
	"rebrand.ly":  {},
	"tiny.cc":     {},
	"lnkd.in":     {},
	"youtu.be":    {},
}

// IsShortener reports whether the URL's host is a known shortener.
func IsShortener(rawURL string) bool {
	_, ok := shortenerDomains[Domain(rawURL)]
	return ok
}

// TrustSet holds domains whose URLs bypass the LLM stages entirely.
type TrustSet struct {
	domains map[string]struct{}
}

// defaultTrusted covers the campus, Indonesian education and
// government, and the platforms lecturers routinely share.
var defaultTrusted = []string{
	// UIR official
	"uir.ac.id", "student.uir.ac.id", "kuliah.uir.ac.id",
	"elearning.uir.ac.id", "sia.uir.ac.id", "library.uir.ac.id",
	// Indonesian education
	"kemdikbud.go.id", "dikti.go.id", "pddikti.kemdikbud.go.id", "lldikti.go.id",
	// Academic platforms
	"classroom.google.com", "docs.google.com", "drive.google.com",
	"forms.google.com", "scholar.google.com",
	"github.com", "gitlab.com", "stackoverflow.com", "medium.com",
	"researchgate.net", "academia.edu", "ieee.org", "acm.org",
	"springer.com", "sciencedirect.com",
	// Meeting platforms
	"zoom.us", "meet.google.com", "teams.microsoft.com",
	"webex.com", "discord.com", "discord.gg",
	// Social / communication
	"youtube.com", "youtu.be", "linkedin.com", "twitter.com", "x.com",
	"instagram.com", "facebook.com", "wa.me", "t.me",
	// Indonesian government
	"go.id", "kemenkeu.go.id", "pajak.go.id", "bps.go.id",
}

// NewTrustSet builds the trust set, optionally extended with custom
// domains.
func NewTrustSet(custom ...string) *TrustSet {
	t := &TrustSet{domains: make(map[string]struct{}, len(defaultTrusted)+len(custom))}
	for _, d := range defaultTrusted {
		t.domains[d] = struct{}{}
	}
	for _, d := range custom {
		t.Add(d)
	}
	return t
}

// Add registers a trusted domain.
func (t *TrustSet) Add(domain string) {
	t.domains[Domain(domain)] = struct{}{}
}

// Remove deletes a trusted domain.
func (t *TrustSet) Remove(domain string) {
	delete(t.domains, Domain(domain))
}

// Contains reports whether the URL's domain is trusted, either
// directly or as a subdomain of a trusted domain.
func (t *TrustSet) Contains(rawURL string) bool {
	domain := Domain(rawURL)
	if _, ok := t.domains[domain]; ok {
		return true
	}
	for trusted := range t.domains {
		if len(domain) > len(trusted) && domain[len(domain)-len(trusted)-1] == '.' &&
			domain[len(domain)-len(trusted):] == trusted {
			return true
		}
	}
	return false
}

// Partition splits urls into whitelisted and non-whitelisted lists,
// preserving order.
func (t *TrustSet) Partition(urls []string) (whitelisted, other []string) {
	for _, u := range urls {
		if t.Contains(u) {
			whitelisted = append(whitelisted, u)
		} else {
			other = append(other, u)
		}
	}
	return whitelisted, other
}
