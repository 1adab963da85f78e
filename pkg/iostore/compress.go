package iostore

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionMethod identifies how a chunk payload is compressed inside the
// container data file. Values are stored in the table of contents.
type CompressionMethod uint8

const (
	CompressionNone CompressionMethod = 0
	CompressionZlib CompressionMethod = 1
	CompressionLZ4  CompressionMethod = 2
	CompressionZstd CompressionMethod = 3
)

// String returns the human-readable name of a compression method.
func (m CompressionMethod) String() string {
	switch m {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseCompressionMethod parses a compression method from its string form.
func ParseCompressionMethod(name string) (CompressionMethod, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "zlib":
		return CompressionZlib, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression method: %q", name)
	}
}

func compressChunk(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case CompressionNone:
		return data, nil
	case CompressionZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("lz4 compress: data is incompressible")
		}
		return dst[:n], nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %s", method)
	}
}

// decompressChunk inflates a chunk payload. The result must be exactly
// rawSize bytes long.
func decompressChunk(compressed []byte, method CompressionMethod, rawSize uint64) ([]byte, error) {
	var out []byte
	switch method {
	case CompressionNone:
		out = compressed
	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		out, err = io.ReadAll(io.LimitReader(zr, int64(rawSize)+1))
		if err != nil {
			_ = zr.Close()
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
	case CompressionLZ4:
		out = make([]byte, rawSize)
		n, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		out = out[:n]
	case CompressionZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(rawSize+1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err = dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression method: %s", method)
	}
	if uint64(len(out)) != rawSize {
		return nil, fmt.Errorf("%s chunk: size %d does not match expected %d", method, len(out), rawSize)
	}
	return out, nil
}
