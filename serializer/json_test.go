package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSON_RoundTrip(t *testing.T) {
	s := JSON{}
	in := widget{Name: "bolt", Count: 3}

	b, err := s.Serialize(in)
	require.NoError(t, err)

	var out widget
	require.NoError(t, s.Deserialize(b, &out))
	require.Equal(t, in, out)
}

func TestJSON_StringRoundTrip(t *testing.T) {
	s := JSON{}
	in := widget{Name: "nut", Count: 7}

	str, err := s.SerializeToString(in)
	require.NoError(t, err)

	var out widget
	require.NoError(t, s.DeserializeFromString(str, &out))
	require.Equal(t, in, out)
}
