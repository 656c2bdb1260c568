// Package router implements the envelope dispatch engine: handler
// resolution, the onion-model interceptor chain, recursion-safe nested
// calls via Context.Call, and translation of handler results/failures
// into response/stream/error envelopes (§4.2).
package router

import (
	"encoding/json"
	"log/slog"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// EventDispatcher is the subset of eventdelivery.Dispatcher the router
// needs to hand event-kind envelopes off to the delivery-guarantee/retry
// engine instead of invoking the handler inline. Declared here rather
// than imported directly so eventdelivery stays a leaf package the
// router depends on by interface, not by concrete type.
type EventDispatcher interface {
	Dispatch(name string, ctx *envelope.Context, payload interface{}) error
}

// ResultKind distinguishes a single terminal envelope from a stream of
// envelopes.
type ResultKind int

const (
	ResultSingle ResultKind = iota
	ResultStream
)

// Result is what Router.Handle returns: either a single response/error
// envelope, or a channel the caller drains for stream:chunk envelopes
// terminated by a stream:end or stream:error envelope.
type Result struct {
	Kind     ResultKind
	Envelope *envelope.Envelope
	Stream   <-chan *envelope.Envelope
}

// Router dispatches envelopes to registered handlers through the
// interceptor chain.
type Router struct {
	reg               *registry.Registry
	globalInterceptors []registry.Interceptor
	logger            *slog.Logger
	dispatcher        EventDispatcher
}

// SetEventDispatcher installs the engine that event-kind handlers are
// delivered through (§2 "Event delivery engine"). Without one, event
// envelopes fall back to invoking the handler inline and synchronously,
// which drops the at-least-once retry/backoff guarantee a registered
// handler may have requested.
func (r *Router) SetEventDispatcher(d EventDispatcher) {
	r.dispatcher = d
}

// New builds a Router over reg. global is the interceptor list applied to
// every handler invocation, composed before any handler-specific
// interceptors (§4.2 step 3).
func New(reg *registry.Registry, logger *slog.Logger, global ...registry.Interceptor) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{reg: reg, globalInterceptors: global, logger: logger}
}

// CallFunc returns a envelope.CallFunc bound to this router, for
// injection into every root Context the router constructs (Design Notes
// §9: "Context propagation through nested handler calls").
func (r *Router) CallFunc() envelope.CallFunc {
	return func(parent *envelope.Context, procedure string, payload interface{}) (interface{}, error) {
		raw, err := marshalPayload(payload)
		if err != nil {
			return nil, raffelerr.Wrap(raffelerr.CodeInvalidArgument, "failed to marshal nested call payload", err)
		}
		id := parent.RequestID()
		env, err := envelope.New(id, procedure, envelope.TypeRequest, nil)
		if err != nil {
			return nil, raffelerr.Wrap(raffelerr.CodeInternalError, "failed to build nested call envelope", err)
		}
		env.Payload = raw
		env.Context = parent

		result := r.Handle(env)
		if result.Kind != ResultSingle {
			return nil, raffelerr.New(raffelerr.CodeInvalidArgument, "ctx.call cannot target a stream procedure")
		}
		if result.Envelope.Type == envelope.TypeError {
			var payload struct {
				Code    string                 `json:"code"`
				Message string                 `json:"message"`
				Details map[string]interface{} `json:"details,omitempty"`
			}
			_ = result.Envelope.UnmarshalPayload(&payload)
			return nil, raffelerr.New(raffelerr.Code(payload.Code), payload.Message).WithDetails(payload.Details)
		}
		var out interface{}
		_ = result.Envelope.UnmarshalPayload(&out)
		return out, nil
	}
}

// Handle resolves env.Procedure and dispatches it through the interceptor
// chain, returning a single terminal envelope for procedures/errors or a
// stream of envelopes for streaming handlers (§4.2).
func (r *Router) Handle(env *envelope.Envelope) *Result {
	ctx := env.Context
	if ctx == nil {
		ctx = envelope.NewContext(env.ID, r.CallFunc())
	} else {
		// Bind this router's re-entry function even for externally-built
		// contexts, so ctx.Call works regardless of who constructed ctx
		// (transport adapter, or a nested ctx.Call from this same router).
		ctx = ctx.WithCallFunc(r.CallFunc())
	}
	env.Context = ctx

	if ctx.CallingLevel() > envelope.MaxCallingDepth {
		return r.errorResult(env, raffelerr.New(raffelerr.CodeCallingDepthExceeded,
			"nested ctx.call exceeded maximum calling depth"))
	}

	handler, ok := r.reg.Get(env.Procedure)
	if !ok {
		return r.errorResult(env, raffelerr.Newf(raffelerr.CodeNotFound, "no handler registered for %q", env.Procedure))
	}

	chain := r.compose(env, ctx, handler)

	switch handler.Meta.Kind {
	case registry.KindStream:
		return r.handleStream(env, ctx, handler, chain)
	default:
		return r.handleUnary(env, ctx, chain)
	}
}

func (r *Router) handleUnary(env *envelope.Envelope, ctx *envelope.Context, chain registry.Next) *Result {
	val, err := chain()
	if err != nil {
		return r.errorResult(env, raffelerr.As(err))
	}
	resp, err := env.Reply(envelope.TypeResponse, val)
	if err != nil {
		return r.errorResult(env, raffelerr.Wrap(raffelerr.CodeInternalError, "failed to marshal response", err))
	}
	return &Result{Kind: ResultSingle, Envelope: resp}
}

func (r *Router) handleStream(env *envelope.Envelope, ctx *envelope.Context, handler *registry.RegisteredHandler, chain registry.Next) *Result {
	val, err := chain()
	if err != nil {
		return r.errorResult(env, raffelerr.As(err))
	}
	items, ok := val.(<-chan registry.StreamItem)
	if !ok {
		return r.errorResult(env, raffelerr.New(raffelerr.CodeInternalError, "stream handler returned non-stream value"))
	}

	out := make(chan *envelope.Envelope)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case item, open := <-items:
				if !open {
					end, _ := env.Reply(envelope.TypeStreamEnd, nil)
					select {
					case out <- end:
					case <-ctx.Done():
					}
					return
				}
				if item.Err != nil {
					errEnv := r.errorEnvelope(env, raffelerr.As(item.Err), envelope.TypeStreamError)
					select {
					case out <- errEnv:
					case <-ctx.Done():
					}
					return
				}
				chunk, marshalErr := env.Reply(envelope.TypeStreamChunk, item.Payload)
				if marshalErr != nil {
					errEnv := r.errorEnvelope(env, raffelerr.Wrap(raffelerr.CodeInternalError, "failed to marshal stream chunk", marshalErr), envelope.TypeStreamError)
					select {
					case out <- errEnv:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &Result{Kind: ResultStream, Stream: out}
}

// terminalAdapter invokes the actual handler function, the innermost
// onion layer behind every global/handler interceptor.
func (r *Router) terminalAdapter(h *registry.RegisteredHandler) registry.Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, _ registry.Next) (interface{}, error) {
		if !h.Meta.Guard.Evaluate(ctx) {
			return nil, raffelerr.New(raffelerr.CodePermissionDenied, "guard denied access to "+h.Meta.Name)
		}
		switch h.Meta.Kind {
		case registry.KindProcedure:
			return h.Procedure(ctx, env.Payload)
		case registry.KindStream:
			items, err := h.Stream(ctx, env.Payload)
			if err != nil {
				return nil, err
			}
			return (<-chan registry.StreamItem)(items), nil
		case registry.KindEvent:
			if r.dispatcher != nil {
				return nil, r.dispatcher.Dispatch(h.Meta.Name, ctx, env.Payload)
			}
			return nil, h.Event(ctx, env.Payload)
		default:
			return nil, raffelerr.New(raffelerr.CodeUnimplemented, "unknown handler kind")
		}
	}
}

// compose builds the onion chain [...global, ...handler, terminal] per
// §4.2 step 3: interceptor N runs before N+1 and wraps its result.
func (r *Router) compose(env *envelope.Envelope, ctx *envelope.Context, handler *registry.RegisteredHandler) registry.Next {
	all := make([]registry.Interceptor, 0, len(r.globalInterceptors)+len(handler.Interceptors)+1)
	all = append(all, r.globalInterceptors...)
	all = append(all, handler.Interceptors...)
	all = append(all, r.terminalAdapter(handler))
	return r.buildChain(all, 0, env, ctx)
}

// buildChain constructs the Next closure for chain[idx], recursing to
// chain[idx+1] on invocation. A well-behaved interceptor calls next() at
// most once; a second call is logged and re-runs the remainder of the
// chain rather than crashing, returning that second call's result (§4.2:
// "runtime should not crash but log and return the second call's result").
func (r *Router) buildChain(chain []registry.Interceptor, idx int, env *envelope.Envelope, ctx *envelope.Context) registry.Next {
	return func() (interface{}, error) {
		if idx >= len(chain) {
			return nil, raffelerr.New(raffelerr.CodeInternalError, "interceptor chain exhausted without terminal handler")
		}
		called := false
		rest := r.buildChain(chain, idx+1, env, ctx)
		next := func() (interface{}, error) {
			if called {
				r.logger.Warn("interceptor called next() more than once",
					"procedure", env.Procedure, "chain_index", idx)
			}
			called = true
			return rest()
		}
		return chain[idx](env, ctx, next)
	}
}

func marshalPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

func (r *Router) errorEnvelope(env *envelope.Envelope, appErr *raffelerr.Error, typ envelope.Type) *envelope.Envelope {
	payload := map[string]interface{}{
		"code":    string(appErr.Code),
		"message": appErr.Message,
	}
	if appErr.Details != nil {
		payload["details"] = appErr.Details
	}
	resp, err := env.Reply(typ, payload)
	if err != nil {
		r.logger.Error("failed to marshal error envelope", "error", err)
		resp = &envelope.Envelope{ID: env.ID, Procedure: env.Procedure, Type: typ}
	}
	return resp
}

func (r *Router) errorResult(env *envelope.Envelope, appErr *raffelerr.Error) *Result {
	return &Result{Kind: ResultSingle, Envelope: r.errorEnvelope(env, appErr, envelope.TypeError)}
}
