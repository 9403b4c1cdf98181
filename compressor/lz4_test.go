package compressor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLz4Compressor_RoundTrip(t *testing.T) {
	z := Lz4Compressor{}
	input := makeData(64 * 1024)

	compressed, err := z.Compress(input)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(input))

	decompressed, err := z.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(input, decompressed))
}

func TestLz4Compressor_NotShrunk(t *testing.T) {
	z := Lz4Compressor{}
	_, err := z.Compress([]byte{})
	require.ErrorIs(t, err, ErrNotShrunk)
}

func TestNoneCompressor_Identity(t *testing.T) {
	n := NoneCompressor{}
	input := []byte("pass through")
	out, err := n.Compress(input)
	require.NoError(t, err)
	require.Equal(t, input, out)
}
