package codec

import "encoding/json"

// JSON is the default wire codec; envelopes always carry JSON payloads
// regardless of which codec a procedure's result is ultimately rendered
// through.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
