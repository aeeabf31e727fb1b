package protocol

import "encoding/json"

// Codec serializes and deserializes message bodies. The framing layer
// (frame.go) is codec-agnostic; a Hessian or Protobuf codec can be
// registered without touching it.
type Codec interface {
	Name() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is the default, always-available codec.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Encode marshals v to JSON.
func (JSONCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

// Decode unmarshals JSON into v.
func (JSONCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

var registry = map[string]Codec{
	"json": JSONCodec{},
}

// RegisterCodec makes a codec available by name for use by connections
// that request it.
func RegisterCodec(c Codec) {
	registry[c.Name()] = c
}

// GetCodec looks up a registered codec, defaulting to JSON when name is
// empty or unknown.
func GetCodec(name string) Codec {
	if c, ok := registry[name]; ok {
		return c
	}
	return JSONCodec{}
}
