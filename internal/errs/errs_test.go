package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Validation:      http.StatusBadRequest,
		Unauthenticated: http.StatusUnauthorized,
		NotFound:        http.StatusNotFound,
		QuotaExceeded:   http.StatusTooManyRequests,
		RateLimit:       http.StatusTooManyRequests,
		Timeout:         http.StatusGatewayTimeout,
		Provider:        http.StatusBadGateway,
		Config:          http.StatusInternalServerError,
		BadModelOutput:  http.StatusBadGateway,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := New(RateLimit, "slow down")
	outer := fmt.Errorf("fetch failed: %w", inner)

	assert.Equal(t, RateLimit, KindOf(outer))
	assert.True(t, Is(outer, RateLimit))
	assert.False(t, Is(outer, NotFound))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Provider, KindOf(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Timeout, cause, "request to api timed out")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Timeout, KindOf(err))
	assert.Equal(t, "request to api timed out", err.Error())
}

func TestSanitizeRedactsSecrets(t *testing.T) {
	cases := []struct{ in, want string }{
		{"error with sk-abc123XYZ inside", "error with [redacted] inside"},
		{"OPENAI_API_KEY=foo failed", "[redacted]=foo failed"},
		{"bad OPENROUTER-key-99", "bad [redacted]"},
		{"no secrets here", "no secrets here"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Sanitize(c.in))
	}
}

func TestRawOf(t *testing.T) {
	e := New(BadModelOutput, "not JSON")
	e.Raw = "garbage {"
	assert.Equal(t, "garbage {", RawOf(e))
	assert.Equal(t, "", RawOf(errors.New("plain")))
}
