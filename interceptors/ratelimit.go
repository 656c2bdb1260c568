package interceptors

import (
	"sync"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// RateLimitRule binds a sliding-window limit to a set of procedure globs.
// Rules are evaluated in order; the first matching rule applies (§4.3).
type RateLimitRule struct {
	Procedures []string
	Limit      int
	Window     time.Duration
}

// RateLimitConfig configures a RateLimit interceptor.
type RateLimitConfig struct {
	Rules []RateLimitRule
	// KeyFunc derives the bucket key: defaults to the spec's
	// precedence — "user:<principal>" if authenticated, else
	// "ip:<x-forwarded-for>", else "ip:<x-real-ip>", else
	// "global:<procedure>".
	KeyFunc func(env *envelope.Envelope, ctx *envelope.Context) string
}

func defaultRateLimitKey(env *envelope.Envelope, ctx *envelope.Context) string {
	auth := ctx.Auth()
	if auth.Authenticated && auth.Principal != "" {
		return "user:" + auth.Principal
	}
	if fwd, ok := env.GetHeader("x-forwarded-for"); ok && fwd != "" {
		return "ip:" + fwd
	}
	if real, ok := env.GetHeader("x-real-ip"); ok && real != "" {
		return "ip:" + real
	}
	return "global:" + env.Procedure
}

type window struct {
	mu    sync.Mutex
	stamps []time.Time
}

// RateLimit enforces a sliding-window request count per key per matching
// procedure, the same windowed-count approach cellorg applies to its
// broker's backpressure signal (internal/broker bounded channel depth) but
// measured in wall-clock time rather than queue depth.
type RateLimit struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	windows  map[string]*window
}

// NewRateLimit builds a RateLimit interceptor.
func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultRateLimitKey
	}
	return &RateLimit{cfg: cfg, windows: make(map[string]*window)}
}

func (rl *RateLimit) ruleFor(procedure string) *RateLimitRule {
	for i := range rl.cfg.Rules {
		if matchesAny(procedure, rl.cfg.Rules[i].Procedures) {
			return &rl.cfg.Rules[i]
		}
	}
	return nil
}

// Intercept rejects with RATE_LIMITED once the matching rule's sliding
// window already holds Limit entries; the boundary case of exactly Limit
// prior calls within Window is a rejection (§8 rate-limit boundary law).
func (rl *RateLimit) Intercept(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
	rule := rl.ruleFor(env.Procedure)
	if rule == nil {
		return next()
	}

	bucketKey := rl.cfg.KeyFunc(env, ctx) + "|" + env.Procedure

	rl.mu.Lock()
	w, ok := rl.windows[bucketKey]
	if !ok {
		w = &window{}
		rl.windows[bucketKey] = w
	}
	rl.mu.Unlock()

	now := time.Now()
	w.mu.Lock()
	cutoff := now.Add(-rule.Window)
	kept := w.stamps[:0]
	for _, s := range w.stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	w.stamps = kept
	if len(w.stamps) >= rule.Limit {
		resetAt := w.stamps[0].Add(rule.Window)
		w.mu.Unlock()
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return nil, raffelerr.New(raffelerr.CodeRateLimited, "rate limit exceeded for "+env.Procedure).
			WithDetails(map[string]interface{}{
				"retryAfter": int(retryAfter.Seconds()),
				"resetAt":    resetAt.Unix(),
			})
	}
	w.stamps = append(w.stamps, now)
	w.mu.Unlock()

	return next()
}
