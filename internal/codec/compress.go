package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to a stored value. The
// tag is the first byte of every framed value; the values are part of the
// on-disk format.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

// String returns the configuration name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression name from configuration.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

// maxFrameSize bounds the declared uncompressed size of a frame.
const maxFrameSize = 64 << 20

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Frame compresses data with tag and prepends the frame header: the tag
// byte followed by the uncompressed length as a uvarint. Data that does
// not shrink is stored uncompressed.
func Frame(data []byte, tag CompressionTag) ([]byte, error) {
	payload := data
	switch tag {
	case CompressionNone:
	case CompressionLZ4, CompressionZstd:
		compressed, err := compress(data, tag)
		switch {
		case errors.Is(err, errIncompressible):
			tag = CompressionNone
		case err != nil:
			return nil, err
		default:
			payload = compressed
		}
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}

	out := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	out[0] = byte(tag)
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, payload...), nil
}

// Unframe reverses Frame.
func Unframe(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(framed))
	}
	tag := CompressionTag(framed[0])
	size, n := binary.Uvarint(framed[1:])
	if n <= 0 {
		return nil, errors.New("frame header: invalid size")
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame header: size %d exceeds limit", size)
	}
	payload := framed[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("uncompressed frame: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	if len(data) == 0 {
		return nil, errIncompressible
	}
	switch tag {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	default:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	}
}
