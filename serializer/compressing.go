package serializer

import (
	"github.com/cockroachdb/errors"

	"foundatio/compressor"
)

// Compressing wraps another Serializer with a compressor.Compresser. If the
// codec reports compressor.ErrNotShrunk, the uncompressed form is stored
// with a marker byte instead, so Deserialize always knows which path to
// take.
type Compressing struct {
	Inner      Serializer
	Compressor compressor.Compresser
}

const (
	markerCompressed byte = 1
	markerPlain      byte = 0
)

func (c Compressing) Serialize(v any) ([]byte, error) {
	raw, err := c.Inner.Serialize(v)
	if err != nil {
		return nil, err
	}

	compressed, err := c.Compressor.Compress(raw)
	if errors.Is(err, compressor.ErrNotShrunk) {
		return append([]byte{markerPlain}, raw...), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "serializer: compress")
	}
	return append([]byte{markerCompressed}, compressed...), nil
}

func (c Compressing) Deserialize(b []byte, v any) error {
	if len(b) == 0 {
		return errors.New("serializer: empty payload")
	}
	marker, body := b[0], b[1:]

	raw := body
	if marker == markerCompressed {
		decompressed, err := c.Compressor.Decompress(body)
		if err != nil {
			return errors.Wrap(err, "serializer: decompress")
		}
		raw = decompressed
	}
	return c.Inner.Deserialize(raw, v)
}
