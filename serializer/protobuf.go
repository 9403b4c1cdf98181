package serializer

import "google.golang.org/protobuf/proto"

// Protobuf is an alternate Serializer for values that implement
// proto.Message. Grounded on parser/pb.go.
type Protobuf struct{}

func (Protobuf) Serialize(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, ErrTypeAssert
	}
	return proto.Marshal(m)
}

func (Protobuf) Deserialize(b []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return ErrTypeAssert
	}
	return proto.Unmarshal(b, m)
}
