// Package codec defines the pluggable Codec interface payload
// encoding/decoding goes through, plus the two concrete implementations
// the core ships: JSON (the wire format envelopes use) and a CSV/text
// codec for tabular procedure results (§1 "Concrete serializers beyond
// JSON and the CSV/text codecs ... treated as pluggable Codec interface").
package codec

// Codec encodes/decodes a Go value to/from a byte representation.
type Codec interface {
	// Name identifies the codec, e.g. for a content-type negotiation hint.
	Name() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// registry of codecs by name, for content-type-driven lookup (e.g. a
// future HTTP collaborator surface picking a codec from an Accept
// header).
var registry = map[string]Codec{}

// Register adds c to the process-wide codec registry under its Name().
func Register(c Codec) { registry[c.Name()] = c }

// Lookup returns the registered codec for name, if any.
func Lookup(name string) (Codec, bool) {
	c, ok := registry[name]
	return c, ok
}

func init() {
	Register(JSON{})
	Register(CSV{})
}
