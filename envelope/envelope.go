// Package envelope defines the transport-agnostic message unit that
// crosses the boundary of the dispatch runtime, and the per-request
// Context that travels alongside it in-process. Adapted from cellorg's
// internal/envelope package (github.com/tenzoki/agen/cellorg): the GOX
// Envelope carried routing/tracing/QoS metadata for inter-agent messages
// over a broker; this Envelope narrows that shape to the request/
// response/stream/event vocabulary a multi-protocol RPC dispatcher needs.
package envelope

import "encoding/json"

// Type is the wire-visible kind of an Envelope.
type Type string

const (
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeError        Type = "error"
	TypeStreamStart  Type = "stream:start"
	TypeStreamChunk  Type = "stream:chunk"
	TypeStreamEnd    Type = "stream:end"
	TypeStreamError  Type = "stream:error"
	TypeEvent        Type = "event"
)

// Envelope is the unit transferred across the boundary of the core. Its
// `id` is preserved from request through every response/chunk/error that
// answers it (§3 invariant).
type Envelope struct {
	ID        string            `json:"id"`
	Procedure string            `json:"procedure"`
	Type      Type              `json:"type"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Context is in-process only, never serialized on the wire.
	Context *Context `json:"-"`
}

// New builds a request envelope, marshaling payload to JSON the way
// cellorg's NewEnvelope marshals its payload argument.
func New(id, procedure string, typ Type, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        id,
		Procedure: procedure,
		Type:      typ,
		Payload:   raw,
		Metadata:  make(map[string]string),
	}, nil
}

// Reply builds a response/error/stream-chunk envelope that preserves the
// originating request's id, procedure and metadata, mirroring cellorg's
// NewReplyEnvelope correlation pattern.
func (e *Envelope) Reply(typ Type, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        e.ID,
		Procedure: e.Procedure,
		Type:      typ,
		Payload:   raw,
		Metadata:  e.Metadata,
	}, nil
}

// UnmarshalPayload decodes the payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// SetHeader sets a metadata entry, initializing the map on first use.
func (e *Envelope) SetHeader(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// GetHeader retrieves a metadata entry.
func (e *Envelope) GetHeader(key string) (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

// Clone creates a deep copy, used by cache/dedup interceptors so
// concurrent callers never observe each other's mutations (§4.3).
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}

// ToJSON serializes the wire-visible fields of the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses the wire-visible fields of an envelope.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Size returns the approximate wire size in bytes, used by the size-limit
// interceptor (§4.3).
func (e *Envelope) Size() int {
	data, err := e.ToJSON()
	if err != nil {
		return 0
	}
	return len(data)
}
