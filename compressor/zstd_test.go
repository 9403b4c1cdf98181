package compressor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestZstdCompressor_RoundTrip(t *testing.T) {
	z := &ZstdCompressor{}
	input := makeData(64 * 1024)

	compressed, err := z.Compress(input)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(input))

	decompressed, err := z.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(input, decompressed))
}

func TestZstdCompressor_DdzstdRoundTrip(t *testing.T) {
	z := &ZstdCompressor{}
	input := makeData(8 * 1024)

	compressed, err := z.CompressWithDdzstd(input)
	require.NoError(t, err)

	decompressed, err := z.DecompressWithDdzstd(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(input, decompressed))
}

func TestZstdCompressor_NotShrunk(t *testing.T) {
	z := &ZstdCompressor{}
	_, err := z.Compress([]byte("x"))
	require.ErrorIs(t, err, ErrNotShrunk)
}
