package serializer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"foundatio/compressor"
)

func TestCompressing_RoundTrip_Compressible(t *testing.T) {
	c := Compressing{Inner: JSON{}, Compressor: &compressor.ZstdCompressor{}}

	in := widget{Name: strings.Repeat("a", 4096), Count: 1}
	b, err := c.Serialize(in)
	require.NoError(t, err)

	var out widget
	require.NoError(t, c.Deserialize(b, &out))
	require.Equal(t, in, out)
}

func TestCompressing_RoundTrip_FallsBackToPlain(t *testing.T) {
	c := Compressing{Inner: JSON{}, Compressor: &compressor.ZstdCompressor{}}

	in := widget{Name: "x", Count: 1}
	b, err := c.Serialize(in)
	require.NoError(t, err)
	require.Equal(t, markerPlain, b[0])

	var out widget
	require.NoError(t, c.Deserialize(b, &out))
	require.Equal(t, in, out)
}
