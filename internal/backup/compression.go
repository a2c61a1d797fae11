package backup

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the codec applied to an exported archive
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// SupportedCompressions lists the accepted codecs in display order
func SupportedCompressions() []CompressionType {
	return []CompressionType{CompressionTypeGzip, CompressionTypeZstd, CompressionTypeLZ4, CompressionTypeNone}
}

// ParseCompression accepts a codec name case-insensitively. Empty means gzip.
func ParseCompression(s string) (CompressionType, error) {
	name := CompressionType(strings.ToLower(strings.TrimSpace(s)))
	if name == "" {
		return CompressionTypeGzip, nil
	}
	for _, c := range SupportedCompressions() {
		if c == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported compression algorithm: %s", s)
}

// Extension returns the archive file suffix for the codec
func (c CompressionType) Extension() string {
	switch c {
	case CompressionTypeGzip:
		return ".tar.gz"
	case CompressionTypeLZ4:
		return ".tar.lz4"
	case CompressionTypeZstd:
		return ".tar.zst"
	}
	return ".tar"
}

// CompressionFromPath infers the codec from an archive file name
func CompressionFromPath(p string) (CompressionType, bool) {
	name := strings.ToLower(p)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return CompressionTypeGzip, true
	case strings.HasSuffix(name, ".tar.zst"):
		return CompressionTypeZstd, true
	case strings.HasSuffix(name, ".tar.lz4"):
		return CompressionTypeLZ4, true
	case strings.HasSuffix(name, ".tar"):
		return CompressionTypeNone, true
	}
	return "", false
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewCompressWriter wraps w with the codec. Closing the result flushes the
// codec but never closes w.
func NewCompressWriter(w io.Writer, c CompressionType) (io.WriteCloser, error) {
	switch c {
	case CompressionTypeNone:
		return nopWriteCloser{w}, nil
	case CompressionTypeGzip:
		gw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gw, nil
	case CompressionTypeLZ4:
		return lz4.NewWriter(w), nil
	case CompressionTypeZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return zw, nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", c)
}

// NewDecompressReader wraps r with the codec's decoder
func NewDecompressReader(r io.Reader, c CompressionType) (io.ReadCloser, error) {
	switch c {
	case CompressionTypeNone:
		return io.NopCloser(r), nil
	case CompressionTypeGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gr, nil
	case CompressionTypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionTypeZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", c)
}
