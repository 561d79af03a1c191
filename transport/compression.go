package transport

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// bodyCompressor compresses/decompresses a frame body once STARTUP has
// negotiated an algorithm. Frames exchanged before negotiation
// (OPTIONS/STARTUP itself) are never compressed.
type bodyCompressor interface {
	Name() string
	Compress(body []byte) ([]byte, error)
	Decompress(body []byte) ([]byte, error)
}

func newBodyCompressor(kind CompressionKind) bodyCompressor {
	switch kind {
	case CompressionLZ4:
		return lz4Compressor{}
	case CompressionSnappy:
		return snappyCompressor{}
	default:
		return nil
	}
}

// lz4Compressor implements the CQL protocol's lz4 body framing: a 4-byte
// big-endian uncompressed length prefix followed by the lz4 block, as
// required by the native protocol spec (distinct from lz4's own frame
// format).
type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }

func (lz4Compressor) Compress(body []byte) ([]byte, error) {
	buf := make([]byte, 4+lz4.CompressBlockBound(len(body)))
	buf[0] = byte(len(body) >> 24)
	buf[1] = byte(len(body) >> 16)
	buf[2] = byte(len(body) >> 8)
	buf[3] = byte(len(body))

	var c lz4.Compressor
	n, err := c.CompressBlock(body, buf[4:])
	if err != nil {
		return nil, fmt.Errorf("transport: lz4 compress: %w", err)
	}
	if n == 0 && len(body) > 0 {
		return nil, fmt.Errorf("transport: lz4 compress: incompressible block")
	}
	return buf[:4+n], nil
}

func (lz4Compressor) Decompress(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("transport: lz4 decompress: body too short for length prefix")
	}
	n := int(body[0])<<24 | int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if _, err := lz4.UncompressBlock(body[4:], out); err != nil {
		return nil, fmt.Errorf("transport: lz4 decompress: %w", err)
	}
	return out, nil
}

// snappyCompressor wraps golang/snappy's block format directly; unlike lz4
// the protocol carries no separate length prefix since snappy's own framing
// already self-describes the decompressed size.
type snappyCompressor struct{}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(body []byte) ([]byte, error) {
	return snappy.Encode(nil, body), nil
}

func (snappyCompressor) Decompress(body []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(body)
	if err != nil {
		return nil, fmt.Errorf("transport: snappy decompress: %w", err)
	}
	out := make([]byte, n)
	out, err = snappy.Decode(out, body)
	if err != nil {
		return nil, fmt.Errorf("transport: snappy decompress: %w", err)
	}
	return out, nil
}
