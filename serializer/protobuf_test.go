package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtobuf_RejectsNonProtoMessage(t *testing.T) {
	p := Protobuf{}
	_, err := p.Serialize(widget{Name: "not-proto"})
	require.ErrorIs(t, err, ErrTypeAssert)

	err = p.Deserialize([]byte{1, 2, 3}, &widget{})
	require.ErrorIs(t, err, ErrTypeAssert)
}
