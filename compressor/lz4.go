package compressor

import (
	"encoding/binary"

	"github.com/pierrec/lz4"

	"github.com/cockroachdb/errors"
)

// Lz4Compressor trades compression ratio for speed relative to
// ZstdCompressor; useful for latency-sensitive queue payloads. It uses
// LZ4's block API (not the streaming frame format), so it prefixes its
// output with the original length — block mode needs the destination
// buffer sized up front to decompress.
type Lz4Compressor struct{}

// Compress block-compresses src with LZ4. It returns ErrNotShrunk if
// CompressBlock reports n==0 or if the framed output (length header plus
// block) would not be smaller than src, matching ZstdCompressor's contract
// so callers can fall back uniformly.
func (Lz4Compressor) Compress(src []byte) ([]byte, error) {
	maxDstSize := lz4.CompressBlockBound(len(src))
	dst := make([]byte, maxDstSize)

	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, ErrIncompressible
	}
	if n == 0 || 4+n >= len(src) {
		return nil, ErrNotShrunk
	}

	out := make([]byte, 4+n)
	binary.BigEndian.PutUint32(out[:4], uint32(len(src)))
	copy(out[4:], dst[:n])
	return out, nil
}

// Decompress reverses Compress.
func (Lz4Compressor) Decompress(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, errors.New("compressor: lz4 payload too short")
	}
	originalLen := binary.BigEndian.Uint32(src[:4])
	dst := make([]byte, originalLen)

	n, err := lz4.UncompressBlock(src[4:], dst)
	if err != nil {
		return nil, errors.Wrap(err, "compressor: lz4 decompress")
	}
	return dst[:n], nil
}
