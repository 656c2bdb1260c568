// Package registry stores uniquely-named procedure/stream/event handlers
// and their metadata. Registration happens before a server starts; reads
// afterward take the shared side of a sync.RWMutex, so concurrent lookups
// do not block one another, but they are not lock-free.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
)

// Kind is the handler category.
type Kind string

const (
	KindProcedure Kind = "procedure"
	KindStream    Kind = "stream"
	KindEvent     Kind = "event"
)

// StreamDirection describes which side of the connection produces the
// stream's sequence of payloads.
type StreamDirection string

const (
	StreamServerToClient StreamDirection = "server"
	StreamClientToServer StreamDirection = "client"
	StreamBidirectional  StreamDirection = "bidirectional"
)

// DeliveryGuarantee is the fan-out guarantee an event handler is
// registered with (§4, event delivery engine).
type DeliveryGuarantee string

const (
	DeliveryBestEffort DeliveryGuarantee = "best_effort"
	DeliveryAtLeastOnce DeliveryGuarantee = "at_least_once"
)

// RetryPolicy configures the event delivery engine's retry behavior for
// at-least-once events.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelayMs int
}

// Next invokes the remainder of an interceptor chain.
type Next func() (interface{}, error)

// Interceptor wraps handler execution in onion fashion: it runs before
// calling next() and may transform whatever next() returns or panics
// with. next() must be invoked at most once by a well-behaved
// interceptor (§4.2); the router's chain composer tolerates — but logs —
// a double invocation rather than crashing.
type Interceptor func(env *envelope.Envelope, ctx *envelope.Context, next Next) (interface{}, error)

// ProcedureHandler answers a single request with a single result.
type ProcedureHandler func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error)

// StreamItem is one element of a stream handler's lazy sequence.
type StreamItem struct {
	Payload interface{}
	Err     error
}

// StreamHandler produces a lazy sequence of StreamItems. It must select
// on ctx.Done() between items and stop promptly on cancellation (§5).
type StreamHandler func(ctx *envelope.Context, payload json.RawMessage) (<-chan StreamItem, error)

// EventHandler is a fire-and-forget handler invoked by the event delivery
// engine's fan-out.
type EventHandler func(ctx *envelope.Context, payload json.RawMessage) error

// HTTPHint maps a procedure onto an HTTP method/path for collaborator
// HTTP-surface glue (out of THE CORE's scope, but the hint itself is core
// metadata per §4.1).
type HTTPHint struct {
	Path   string
	Method string
}

// JSONRPCHint maps a procedure onto a JSON-RPC method name.
type JSONRPCHint struct {
	Method string
}

// GRPCHint maps a procedure onto a gRPC service/method pair.
type GRPCHint struct {
	Service string
	Method  string
}

// Meta holds the kind-appropriate metadata merged in at registration
// time (§4.1).
type Meta struct {
	Kind        Kind
	Name        string
	Summary     string
	Description string
	Tags        []string
	ContentTypes []string

	// Procedure-only hints.
	HTTP    *HTTPHint
	JSONRPC *JSONRPCHint
	GRPC    *GRPCHint

	// Stream-only.
	Direction StreamDirection

	// Event-only.
	Delivery DeliveryGuarantee
	Retry    RetryPolicy

	Guard Guard
}

// RegisteredHandler is one entry in the registry: a handler plus its
// metadata and any handler-specific interceptors (§3).
type RegisteredHandler struct {
	Meta         Meta
	Procedure    ProcedureHandler
	Stream       StreamHandler
	Event        EventHandler
	Interceptors []Interceptor
}

// Option configures a RegisteredHandler's Meta at registration time.
type Option func(*Meta)

// WithSummary sets a one-line summary.
func WithSummary(s string) Option { return func(m *Meta) { m.Summary = s } }

// WithDescription sets a longer description.
func WithDescription(s string) Option { return func(m *Meta) { m.Description = s } }

// WithTags attaches free-form tags.
func WithTags(tags ...string) Option { return func(m *Meta) { m.Tags = tags } }

// WithContentTypes restricts accepted/produced content types.
func WithContentTypes(types ...string) Option { return func(m *Meta) { m.ContentTypes = types } }

// WithHTTPHint attaches an HTTP path/method mapping hint (procedures only).
func WithHTTPHint(method, path string) Option {
	return func(m *Meta) { m.HTTP = &HTTPHint{Method: method, Path: path} }
}

// WithJSONRPCHint attaches a JSON-RPC method mapping hint (procedures only).
func WithJSONRPCHint(method string) Option {
	return func(m *Meta) { m.JSONRPC = &JSONRPCHint{Method: method} }
}

// WithGRPCHint attaches a gRPC service/method mapping hint (procedures only).
func WithGRPCHint(service, method string) Option {
	return func(m *Meta) { m.GRPC = &GRPCHint{Service: service, Method: method} }
}

// WithDirection sets a stream's direction (streams only; defaults to
// server-to-client per §4.1).
func WithDirection(d StreamDirection) Option { return func(m *Meta) { m.Direction = d } }

// WithDeliveryGuarantee sets an event's delivery guarantee (events only;
// defaults to best-effort per §4.1).
func WithDeliveryGuarantee(d DeliveryGuarantee) Option {
	return func(m *Meta) { m.Delivery = d }
}

// WithRetryPolicy sets an event's retry policy (events only).
func WithRetryPolicy(p RetryPolicy) Option { return func(m *Meta) { m.Retry = p } }

// WithGuard attaches an authorization guard.
func WithGuard(g Guard) Option { return func(m *Meta) { m.Guard = g } }

// Registry is the write-once, read-many store of handler names to
// RegisteredHandlers, unique across the union of all three kinds (§3
// invariant: "names are unique across the union of procedures, streams,
// and events").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*RegisteredHandler
	// insertion order per kind, for stable list_* introspection (§4.1).
	order map[Kind][]string
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]*RegisteredHandler),
		order:    make(map[Kind][]string),
	}
}

func (r *Registry) register(name string, h *RegisteredHandler, opts []Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return raffelerr.Newf(raffelerr.CodeAlreadyExists, "handler %q already registered", name)
	}
	h.Meta.Name = name
	for _, opt := range opts {
		opt(&h.Meta)
	}
	r.handlers[name] = h
	r.order[h.Meta.Kind] = append(r.order[h.Meta.Kind], name)
	return nil
}

// RegisterProcedure registers a unary handler under name.
func (r *Registry) RegisterProcedure(name string, handler ProcedureHandler, opts ...Option) error {
	h := &RegisteredHandler{
		Meta:      Meta{Kind: KindProcedure},
		Procedure: handler,
	}
	return r.register(name, h, opts)
}

// RegisterStream registers a stream handler under name. Direction
// defaults to server-to-client unless overridden via WithDirection.
func (r *Registry) RegisterStream(name string, handler StreamHandler, opts ...Option) error {
	h := &RegisteredHandler{
		Meta:   Meta{Kind: KindStream, Direction: StreamServerToClient},
		Stream: handler,
	}
	return r.register(name, h, opts)
}

// RegisterEvent registers an event handler under name. Delivery defaults
// to best-effort unless overridden via WithDeliveryGuarantee.
func (r *Registry) RegisterEvent(name string, handler EventHandler, opts ...Option) error {
	h := &RegisteredHandler{
		Meta:  Meta{Kind: KindEvent, Delivery: DeliveryBestEffort},
		Event: handler,
	}
	return r.register(name, h, opts)
}

// SetInterceptors attaches handler-specific interceptors after
// registration (used by builders that register then configure).
func (r *Registry) SetInterceptors(name string, interceptors ...Interceptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[name]
	if !ok {
		return raffelerr.Newf(raffelerr.CodeNotFound, "handler %q not registered", name)
	}
	h.Interceptors = interceptors
	return nil
}

// Get looks up any handler by name regardless of kind.
func (r *Registry) Get(name string) (*RegisteredHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// GetProcedure looks up a procedure handler specifically.
func (r *Registry) GetProcedure(name string) (*RegisteredHandler, bool) {
	h, ok := r.Get(name)
	if !ok || h.Meta.Kind != KindProcedure {
		return nil, false
	}
	return h, true
}

// GetStream looks up a stream handler specifically.
func (r *Registry) GetStream(name string) (*RegisteredHandler, bool) {
	h, ok := r.Get(name)
	if !ok || h.Meta.Kind != KindStream {
		return nil, false
	}
	return h, true
}

// GetEvent looks up an event handler specifically.
func (r *Registry) GetEvent(name string) (*RegisteredHandler, bool) {
	h, ok := r.Get(name)
	if !ok || h.Meta.Kind != KindEvent {
		return nil, false
	}
	return h, true
}

// listKind returns names registered under kind in insertion order.
func (r *Registry) listKind(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.order[kind]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// ListProcedures returns all procedure names in registration order.
func (r *Registry) ListProcedures() []string { return r.listKind(KindProcedure) }

// ListStreams returns all stream names in registration order.
func (r *Registry) ListStreams() []string { return r.listKind(KindStream) }

// ListEvents returns all event names in registration order.
func (r *Registry) ListEvents() []string { return r.listKind(KindEvent) }
