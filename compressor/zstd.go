package compressor

import (
	ddzstd "github.com/DataDog/zstd"
	"github.com/klauspost/compress/zstd"

	"github.com/cockroachdb/errors"
)

// ZstdCompressor is the default zstd codec, backed by
// klauspost/compress/zstd. CompressWithDdzstd/DecompressWithDdzstd expose
// the cgo-based DataDog/zstd binding as an alternate, higher-compression
// path for callers willing to pay the cgo cost.
type ZstdCompressor struct{}

// CompressWithDdzstd compresses src using the DataDog/zstd cgo binding.
func (z *ZstdCompressor) CompressWithDdzstd(src []byte) ([]byte, error) {
	buf := make([]byte, ddzstd.CompressBound(len(src)))
	out, err := ddzstd.CompressLevel(buf, src, ddzstd.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(err, "compressor: ddzstd compress")
	}
	return out, nil
}

// DecompressWithDdzstd decompresses src produced by CompressWithDdzstd.
func (z *ZstdCompressor) DecompressWithDdzstd(src []byte) ([]byte, error) {
	out, err := ddzstd.Decompress(nil, src)
	if err != nil {
		return nil, errors.Wrap(err, "compressor: ddzstd decompress")
	}
	return out, nil
}

// Compress compresses src with the pure-Go zstd encoder. It returns
// ErrNotShrunk if compression did not reduce the size, so callers can fall
// back to NoneCompressor rather than storing inflated payloads.
func (z *ZstdCompressor) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "compressor: zstd encoder init")
	}
	defer enc.Close()

	compressed := enc.EncodeAll(src, nil)
	if len(compressed) >= len(src) {
		return nil, ErrNotShrunk
	}
	return compressed, nil
}

// Decompress decompresses src produced by Compress.
func (z *ZstdCompressor) Decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "compressor: zstd decoder init")
	}
	defer dec.Close()

	decompressed, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, errors.Wrap(err, "compressor: zstd decode")
	}
	return decompressed, nil
}
