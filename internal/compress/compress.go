package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressionType names a codec
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionZstd   CompressionType = "zstd"
	CompressionSnappy CompressionType = "snappy"
)

var extensions = map[CompressionType]string{
	CompressionGzip:   ".gz",
	CompressionZstd:   ".zst",
	CompressionSnappy: ".sz",
}

// Extension returns the file suffix for the codec, "" for none
func (c CompressionType) Extension() string {
	return extensions[c]
}

// FromPath picks the codec from a file name suffix
func FromPath(path string) CompressionType {
	for ct, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return ct
		}
	}
	return CompressionNone
}

// NewReader wraps r with a streaming decompressor for the codec.
// Closing the returned reader does not close r.
func NewReader(r io.Reader, ct CompressionType) (io.ReadCloser, error) {
	switch ct {
	case CompressionNone, "":
		return io.NopCloser(r), nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		return zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader creation failed: %w", err)
		}
		return zr.IOReadCloser(), nil
	case CompressionSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", ct)
	}
}

// Compressor compresses whole buffers, used for snapshot mirrors
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() CompressionType
}

// GetCompressor returns a compressor for the specified type
func GetCompressor(ct CompressionType) (Compressor, error) {
	switch ct {
	case CompressionNone:
		return &NoneCompressor{}, nil
	case CompressionGzip:
		return &GzipCompressor{Level: gzip.BestCompression}, nil
	case CompressionZstd:
		return &ZstdCompressor{}, nil
	case CompressionSnappy:
		return &SnappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", ct)
	}
}

// NoneCompressor performs no compression
type NoneCompressor struct{}

func (c *NoneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoneCompressor) Type() CompressionType { return CompressionNone }

// GzipCompressor uses gzip compression
type GzipCompressor struct {
	Level int
}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer creation failed: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	return readAll(bytes.NewReader(data), CompressionGzip)
}

func (c *GzipCompressor) Type() CompressionType { return CompressionGzip }

// ZstdCompressor uses zstd compression
type ZstdCompressor struct{}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd writer creation failed: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return readAll(bytes.NewReader(data), CompressionZstd)
}

func (c *ZstdCompressor) Type() CompressionType { return CompressionZstd }

// SnappyCompressor writes the snappy framing format so mirrors stream like .sz logs
type SnappyCompressor struct{}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := snappy.NewBufferedWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("snappy write failed: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("snappy close failed: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return readAll(bytes.NewReader(data), CompressionSnappy)
}

func (c *SnappyCompressor) Type() CompressionType { return CompressionSnappy }

func readAll(r io.Reader, ct CompressionType) ([]byte, error) {
	reader, err := NewReader(r, ct)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%s read failed: %w", ct, err)
	}

	return decompressed, nil
}
