package interceptors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forattini-dev/raffel-sub006/envelope"
)

func TestSizeLimit_RejectsOversizedRequest(t *testing.T) {
	s := NewSizeLimit(SizeLimitConfig{MaxPayloadBytes: 8})
	env := testEnvelope(t, "uploads.put", `"`+strings.Repeat("x", 32)+`"`)
	ctx := envelope.NewContext("req-1", nil)

	_, err := s.Intercept(env, ctx, func() (interface{}, error) { return "ok", nil })
	assert.Error(t, err)
}

func TestSizeLimit_RejectsOversizedResponse(t *testing.T) {
	s := NewSizeLimit(SizeLimitConfig{MaxResponseBytes: 8})
	env := testEnvelope(t, "uploads.put", `{}`)
	ctx := envelope.NewContext("req-1", nil)

	big := strings.Repeat("y", 64)
	_, err := s.Intercept(env, ctx, func() (interface{}, error) { return big, nil })
	assert.Error(t, err)
}

func TestSizeLimit_AllowsWithinBounds(t *testing.T) {
	s := NewSizeLimit(SizeLimitConfig{MaxPayloadBytes: 64, MaxResponseBytes: 64})
	env := testEnvelope(t, "uploads.put", `{"a":1}`)
	ctx := envelope.NewContext("req-1", nil)

	res, err := s.Intercept(env, ctx, func() (interface{}, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, "ok", res)
}
