package urlcheck

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const expanderUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Expander resolves shortened URLs by walking redirects manually.
// HEAD is tried first; some shorteners reject it, so a GET with an
// unread body is the fallback per hop.
type Expander struct {
	http         *http.Client
	maxRedirects int
}

// NewExpander creates an expander with the given per-URL timeout and
// redirect cap.
func NewExpander(timeout time.Duration, maxRedirects int) *Expander {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	return &Expander{
		http: &http.Client{
			Timeout: timeout,
			// Redirects are followed manually so the chain is recorded.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: maxRedirects,
	}
}

// Expand follows redirects from rawURL and returns the final URL plus
// the chain of intermediate hops (excluding the original). An error
// means no hop could be resolved at all, or the walk was still being
// redirected when the cap ran out.
func (e *Expander) Expand(ctx context.Context, rawURL string) (string, []string, error) {
	current := rawURL
	var chain []string

	for hop := 0; hop < e.maxRedirects; hop++ {
		location, redirected, err := e.resolveHop(ctx, current)
		if err != nil {
			if hop == 0 {
				return rawURL, nil, err
			}
			// Partial chains still identify the destination domain.
			zap.L().Debug("redirect walk stopped early",
				zap.String("url", rawURL),
				zap.Int("hop", hop),
				zap.Error(err))
			return current, chain, nil
		}
		if !redirected {
			return current, chain, nil
		}
		current = location
		chain = append(chain, current)
	}

	// The destination was never reached, so the chain proves nothing
	// about where the URL ultimately lands.
	return current, chain, eris.Errorf("urlcheck: %s exceeded %d redirects", rawURL, e.maxRedirects)
}

func (e *Expander) resolveHop(ctx context.Context, current string) (string, bool, error) {
	location, redirected, err := e.tryMethod(ctx, http.MethodHead, current)
	if err != nil {
		location, redirected, err = e.tryMethod(ctx, http.MethodGet, current)
	}
	if err != nil {
		return "", false, err
	}
	return location, redirected, nil
}

func (e *Expander) tryMethod(ctx context.Context, method, current string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, current, nil)
	if err != nil {
		return "", false, eris.Wrap(err, "urlcheck: create expand request")
	}
	req.Header.Set("User-Agent", expanderUserAgent)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", false, eris.Wrap(err, "urlcheck: expand request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		location := resp.Header.Get("Location")
		if location == "" {
			return current, false, nil
		}
		return absoluteLocation(current, location), true, nil
	default:
		return current, false, nil
	}
}

// absoluteLocation resolves relative Location headers against the
// current URL.
func absoluteLocation(current, location string) string {
	loc, err := url.Parse(location)
	if err != nil {
		return location
	}
	if loc.IsAbs() {
		return location
	}
	base, err := url.Parse(current)
	if err != nil {
		return location
	}
	return base.ResolveReference(loc).String()
}
