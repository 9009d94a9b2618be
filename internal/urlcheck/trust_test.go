package urlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustSetContains(t *testing.T) {
	ts := NewTrustSet()

	assert.True(t, ts.Contains("https://uir.ac.id/berita"))
	assert.True(t, ts.Contains("https://elearning.uir.ac.id/course/1"), "subdomain of trusted domain")
	assert.True(t, ts.Contains("http://www.github.com/telephis"))
	assert.False(t, ts.Contains("https://uir.ac.id.evil.tk/login"), "trusted domain as prefix must not match")
	assert.False(t, ts.Contains("https://notuir.ac.idx.com"))
	assert.False(t, ts.Contains("https://contoh-blog-saya.com"))
}

func TestTrustSetAddRemove(t *testing.T) {
	ts := NewTrustSet("hmti-uir.or.id")

	assert.True(t, ts.Contains("https://hmti-uir.or.id/agenda"))

	ts.Remove("hmti-uir.or.id")
	assert.False(t, ts.Contains("https://hmti-uir.or.id/agenda"))

	ts.Add("https://lab.example.com/ignored-path")
	assert.True(t, ts.Contains("https://lab.example.com"))
}

func TestTrustSetPartition(t *testing.T) {
	ts := NewTrustSet()

	whitelisted, other := ts.Partition([]string{
		"https://drive.google.com/file/1",
		"https://bit.ly/abc",
		"https://zoom.us/j/99",
		"http://hadiah.tk/klaim",
	})

	assert.Equal(t, []string{"https://drive.google.com/file/1", "https://zoom.us/j/99"}, whitelisted)
	assert.Equal(t, []string{"https://bit.ly/abc", "http://hadiah.tk/klaim"}, other)
}

func TestIsShortener(t *testing.T) {
	assert.True(t, IsShortener("https://bit.ly/abc"))
	assert.True(t, IsShortener("http://s.id/xyz"))
	assert.False(t, IsShortener("https://example.com/bit.ly"))
}
