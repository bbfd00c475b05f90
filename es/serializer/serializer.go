// Package serializer defines the codec boundary between riftlog and the
// opaque event payloads it stores. The store never interprets Data or
// Metadata; encoding and decoding is entirely delegated to a Codec.
package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/riftlog/riftlog/es"
)

// Codec encodes values into storable bytes and decodes them back given the
// event_type that named them at append time. Implementations must
// round-trip: Decode(Encode(v), TypeName(v)) must equal v.
type Codec interface {
	// Encode marshals value into bytes suitable for Event.Data.
	Encode(value interface{}) ([]byte, error)

	// Decode unmarshals data into a value appropriate for typeName.
	// Returns es.ErrSerializerError (wrapped) if typeName is unregistered
	// or the bytes don't match its shape.
	Decode(data []byte, typeName string) (interface{}, error)
}

// Factory constructs a zero value ready to be unmarshaled into, e.g.
// func() interface{} { return &OrderPlaced{} }.
type Factory func() interface{}

// Registry is a Codec that maps event_type strings to Go types via
// registered factories, and delegates the actual marshaling to an
// underlying Codec (JSONCodec by default). This is the shape the
// es/eventmap generator emits registration calls against.
type Registry struct {
	codec     Codec
	factories map[string]Factory
}

// NewRegistry creates a Registry delegating encode/decode to codec. If
// codec is nil, JSONCodec{} is used.
func NewRegistry(codec Codec) *Registry {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Registry{
		codec:     codec,
		factories: make(map[string]Factory),
	}
}

// Register associates an event_type string with a factory producing the
// destination value for Decode. Panics on duplicate registration, since
// this always indicates a code-generation or wiring bug caught at startup.
func (r *Registry) Register(eventType string, factory Factory) {
	if _, exists := r.factories[eventType]; exists {
		panic(fmt.Sprintf("serializer: event type %q already registered", eventType))
	}
	r.factories[eventType] = factory
}

// Encode delegates to the underlying codec.
func (r *Registry) Encode(value interface{}) ([]byte, error) {
	return r.codec.Encode(value)
}

// Decode looks up typeName's factory, then decodes data into it via the
// underlying codec.
func (r *Registry) Decode(data []byte, typeName string) (interface{}, error) {
	factory, ok := r.factories[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: unregistered event type %q", es.ErrSerializerError, typeName)
	}
	target := factory()
	decoded, err := decodeInto(r.codec, data, target)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v", es.ErrSerializerError, typeName, err)
	}
	return decoded, nil
}

// decodeInto is split out so codecs that support decoding into a
// pre-allocated target (JSONCodec) avoid an extra allocation/copy, while
// still satisfying the Codec interface for codecs that don't.
func decodeInto(codec Codec, data []byte, target interface{}) (interface{}, error) {
	if jc, ok := codec.(interface {
		DecodeInto(data []byte, target interface{}) error
	}); ok {
		if err := jc.DecodeInto(data, target); err != nil {
			return nil, err
		}
		return target, nil
	}
	return codec.Decode(data, "")
}

// JSONCodec is the default Codec, built on encoding/json.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

// Decode implements Codec. typeName is ignored; callers that know the
// destination type should use DecodeInto or go through a Registry.
func (JSONCodec) Decode(data []byte, _ string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeInto unmarshals data directly into target, used by Registry to
// avoid the untyped map[string]interface{} round trip.
func (JSONCodec) DecodeInto(data []byte, target interface{}) error {
	return json.Unmarshal(data, target)
}
