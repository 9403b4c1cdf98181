// Package compressor provides pluggable payload compression for anything
// that moves opaque bytes over the wire or into a cache. Within this module
// serializer.Compressing is the component that wraps a Compresser.
package compressor

import "github.com/cockroachdb/errors"

// Compresser is the compression interface every backend implements.
type Compresser interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// ErrIncompressible is returned when the underlying codec fails to process
// the input at all.
var ErrIncompressible = errors.New("compressor: compress error")

// ErrNotShrunk is returned by codecs that refuse to return output that is
// not smaller than the input; callers typically fall back to NoneCompressor
// in that case.
var ErrNotShrunk = errors.New("compressor: compressed size not reduced")
