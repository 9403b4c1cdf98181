// Package serializer provides the byte⇄value codec used by cache, queue and
// bus.
package serializer

import "github.com/cockroachdb/errors"

// ErrTypeAssert is returned when a value doesn't implement the interface a
// Serializer requires (e.g. Protobuf requires proto.Message).
var ErrTypeAssert = errors.New("serializer: type assertion failed")

// Serializer is the codec interface every backend implements.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(b []byte, v any) error
}

// StringSerializer is satisfied by serializers that can also round-trip
// through a string, useful when the target transport is text-safe (e.g. a
// cache backend that only accepts strings).
type StringSerializer interface {
	Serializer
	SerializeToString(v any) (string, error)
	DeserializeFromString(s string, v any) error
}
