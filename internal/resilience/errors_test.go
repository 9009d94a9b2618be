package resilience

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransientExplicitWrap(t *testing.T) {
	err := NewTransientError(assert.AnError, 503)
	assert.True(t, IsTransient(err))

	wrapped := eris.Wrap(err, "llm: send request")
	assert.True(t, IsTransient(wrapped), "transient marker survives wrapping")
}

func TestIsTransientPlainErrors(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(assert.AnError))
	assert.False(t, IsTransient(eris.New("invalid api key")))
}

func TestIsTransientStringPatterns(t *testing.T) {
	assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(eris.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(eris.New("lookup api.deepseek.com: no such host")))
	assert.False(t, IsTransient(eris.New("unexpected end of JSON input")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "%d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "%d", code)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	te := NewTransientError(assert.AnError, 429)
	assert.Equal(t, assert.AnError.Error(), te.Error())
	assert.ErrorIs(t, te, assert.AnError)
	assert.Equal(t, 429, te.StatusCode)
}
