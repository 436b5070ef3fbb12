package kmsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compress compresses a record area with the given codec.
type Compress interface {
	Compress(src []byte, codec Compression) ([]byte, error)
}

// Decompress decompresses a record area compressed with the given codec.
type Decompress interface {
	Decompress(src []byte, codec Compression) ([]byte, error)
}

// Codec implements both Compress and Decompress for all codecs named in
// spec.md §4.1: none, gzip, snappy (xerial framing), lz4, and zstd. It is
// the concrete compressor/decompressor wired into the partition client's
// produce and fetch paths.
type Codec struct {
	// GzipLevel is passed to klauspost/compress/gzip; 0 uses the
	// package default.
	GzipLevel int
}

func (c Codec) Compress(src []byte, codec Compression) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return src, nil
	case CompressionGzip:
		var buf bytes.Buffer
		level := c.GzipLevel
		if level == 0 {
			level = gzip.DefaultCompression
		}
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return appendXerialFrame(snappy.Encode(nil, src)), nil
	case CompressionLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil
	default:
		return nil, errors.New("kmsg: unsupported compression codec")
	}
}

func (c Codec) Decompress(src []byte, codec Compression) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return src, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionSnappy:
		return decodeXerialOrRawSnappy(src)
	case CompressionLz4:
		r := lz4.NewReader(bytes.NewReader(src))
		return io.ReadAll(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(src, nil)
	default:
		return nil, errors.New("kmsg: unsupported compression codec")
	}
}

// xerialMagic identifies the xerial snappy framing Kafka uses: a fixed
// 8-byte magic header, a 4-byte framing version, a 4-byte "compatible"
// marker, then a stream of 4-byte-length-prefixed blocks of
// snappy-compressed data.
var xerialMagic = []byte{0x82, 'S', 'N', 'A', 'P', 'P', 'Y', 0}

func appendXerialFrame(block []byte) []byte {
	dst := make([]byte, 0, len(xerialMagic)+8+4+len(block))
	dst = append(dst, xerialMagic...)
	dst = binary.BigEndian.AppendUint32(dst, 1)
	dst = binary.BigEndian.AppendUint32(dst, 1)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(block)))
	dst = append(dst, block...)
	return dst
}

func decodeXerialOrRawSnappy(src []byte) ([]byte, error) {
	if len(src) < len(xerialMagic) || !bytes.Equal(src[:len(xerialMagic)], xerialMagic) {
		return snappy.Decode(nil, src)
	}
	src = src[len(xerialMagic)+8:] // magic + version + compatible marker
	var out []byte
	for len(src) > 0 {
		if len(src) < 4 {
			return nil, errors.New("kmsg: truncated xerial snappy block length")
		}
		blockLen := binary.BigEndian.Uint32(src)
		src = src[4:]
		if uint32(len(src)) < blockLen {
			return nil, errors.New("kmsg: truncated xerial snappy block")
		}
		block, err := snappy.Decode(nil, src[:blockLen])
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		src = src[blockLen:]
	}
	return out, nil
}
