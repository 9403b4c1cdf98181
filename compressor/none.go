package compressor

// NoneCompressor is the identity codec, used as the default and as the
// fallback when a real codec returns ErrNotShrunk.
type NoneCompressor struct{}

func (NoneCompressor) Compress(src []byte) ([]byte, error) { return src, nil }

func (NoneCompressor) Decompress(src []byte) ([]byte, error) { return src, nil }
