// Package eventdelivery implements the fan-out engine that dispatches
// envelopes of type "event" to their registered EventHandler with the
// delivery guarantee and retry policy recorded on the handler's
// registry.Meta (§2 "Event delivery engine").
//
// Decision (spec Open Question: the distilled spec describes "fan-out"
// for a registry whose names are unique per §3, so there is only ever one
// recipient per event name): fan-out here means decoupling the publisher
// from delivery completion — Dispatch returns once the attempt is
// scheduled, not once it succeeds — and, for at-least-once handlers,
// retrying that one recipient until RetryPolicy is exhausted. This
// matches the source's intent of "guarantee delivery happened" without
// inventing a multi-subscriber broadcast the registry's uniqueness
// invariant doesn't support.
package eventdelivery

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// Dispatcher fans out event envelopes to their registered handler.
type Dispatcher struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// New builds a Dispatcher over reg.
func New(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, logger: logger}
}

// Dispatch looks up name's registered event handler and delivers payload
// to it asynchronously, honoring its DeliveryGuarantee/RetryPolicy. It
// returns immediately (best-effort) or once the attempt has been
// scheduled, never blocking on handler completion.
func (d *Dispatcher) Dispatch(name string, ctx *envelope.Context, payload interface{}) error {
	handler, ok := d.reg.GetEvent(name)
	if !ok {
		return raffelerr.Newf(raffelerr.CodeNotFound, "no event handler registered for %q", name)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return raffelerr.Wrap(raffelerr.CodeInvalidArgument, "failed to marshal event payload", err)
	}

	go d.deliver(name, handler, ctx, raw)
	return nil
}

func (d *Dispatcher) deliver(name string, handler *registry.RegisteredHandler, ctx *envelope.Context, raw json.RawMessage) {
	if handler.Meta.Delivery != registry.DeliveryAtLeastOnce {
		if err := handler.Event(ctx, raw); err != nil {
			d.logger.Warn("best-effort event handler failed", "event", name, "error", err)
		}
		return
	}

	policy := handler.Meta.Retry
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := time.Duration(policy.BaseDelayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := handler.Event(ctx, raw); err != nil {
			lastErr = err
			d.logger.Warn("at-least-once event handler failed, will retry",
				"event", name, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
			if attempt < maxAttempts {
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt-1)))
			}
			continue
		}
		return
	}
	d.logger.Error("at-least-once event handler exhausted retries", "event", name, "error", lastErr)
}
