package urlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicCheckCleanURL(t *testing.T) {
	res := HeuristicCheck("https://example.com/artikel")

	assert.Equal(t, 0.0, res.RiskScore)
	assert.False(t, res.IsMalicious)
	assert.Empty(t, res.RiskFactors)
}

func TestHeuristicCheckIPHost(t *testing.T) {
	res := HeuristicCheck("http://192.168.10.5/login")

	// IP host (0.30) + keyword in path (0.10) + no HTTPS (0.10) + numeric label (0.10)
	assert.InDelta(t, 0.60, res.RiskScore, 0.001)
	assert.True(t, res.IsMalicious)
	assert.Contains(t, res.RiskFactors, "IP address instead of domain")
}

func TestHeuristicCheckCriticalTLD(t *testing.T) {
	res := HeuristicCheck("https://hadiah-gratis.tk/klaim")

	assert.InDelta(t, 0.40, res.RiskScore, 0.001)
	assert.False(t, res.IsMalicious)
	assert.Contains(t, res.RiskFactors, "critical-risk TLD")
}

func TestHeuristicCheckShortener(t *testing.T) {
	res := HeuristicCheck("https://bit.ly/abc")

	assert.InDelta(t, 0.20, res.RiskScore, 0.001)
	assert.Contains(t, res.RiskFactors, "URL shortener detected")
}

func TestHeuristicCheckKeywordInDomainIsFine(t *testing.T) {
	// The keyword sits in the host, not the path.
	res := HeuristicCheck("https://login.microsoft.com/session")

	assert.NotContains(t, res.RiskFactors, "suspicious keyword: login")
}

func TestHeuristicCheckPunycode(t *testing.T) {
	res := HeuristicCheck("https://xn--pypal-4ve.com/account")

	assert.Contains(t, res.RiskFactors, "punycode domain (potential homograph attack)")
	assert.Contains(t, res.RiskFactors, "suspicious keyword: account")
}

func TestHeuristicCheckScoreCapped(t *testing.T) {
	res := HeuristicCheck("http://192.168.0.1.evil.verify.login.tk/secure/update@!")

	assert.Equal(t, 1.0, res.RiskScore)
	assert.True(t, res.IsMalicious)
}

func TestHasSuspiciousTLD(t *testing.T) {
	assert.True(t, HasSuspiciousTLD("http://abc.tk"))
	assert.True(t, HasSuspiciousTLD("https://promo.xyz/page"))
	assert.False(t, HasSuspiciousTLD("https://example.com"))
	assert.False(t, HasSuspiciousTLD("https://uir.ac.id"))
}
