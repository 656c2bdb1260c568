package interceptors

import (
	"encoding/json"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// SizeLimitConfig configures a SizeLimit interceptor.
type SizeLimitConfig struct {
	// MaxPayloadBytes caps the incoming request/event payload. Zero
	// disables the check.
	MaxPayloadBytes int
	// MaxResponseBytes caps the marshaled response/stream-chunk payload.
	// Zero disables the check.
	MaxResponseBytes int
}

// SizeLimit rejects oversized payloads before a handler runs and oversized
// results before they're returned, both as RESOURCE_EXHAUSTED (§4.3).
type SizeLimit struct {
	cfg SizeLimitConfig
}

// NewSizeLimit builds a SizeLimit interceptor.
func NewSizeLimit(cfg SizeLimitConfig) *SizeLimit {
	return &SizeLimit{cfg: cfg}
}

// Intercept enforces the configured byte ceilings around next().
func (s *SizeLimit) Intercept(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
	if s.cfg.MaxPayloadBytes > 0 && len(env.Payload) > s.cfg.MaxPayloadBytes {
		return nil, raffelerr.Newf(raffelerr.CodeResourceExhausted,
			"request payload of %d bytes exceeds limit of %d", len(env.Payload), s.cfg.MaxPayloadBytes)
	}

	result, err := next()
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxResponseBytes > 0 {
		if data, marshalErr := json.Marshal(result); marshalErr == nil && len(data) > s.cfg.MaxResponseBytes {
			return nil, raffelerr.Newf(raffelerr.CodeResourceExhausted,
				"response payload of %d bytes exceeds limit of %d", len(data), s.cfg.MaxResponseBytes)
		}
	}
	return result, nil
}
