// Package compression inflates and deflates distributed document payloads
package compression

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultMaxSize bounds decompressed output
	DefaultMaxSize = 64 << 20
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrTooLarge     = errors.New("decompressed payload exceeds size limit")
)

// gzipMagic opens every GZIP stream
var gzipMagic = []byte{0x1f, 0x8b}

// Compressor handles payload compression
type Compressor struct {
	compressionLevel int
	maxSize          int64
}

// NewCompressor creates a new compressor with default compression level
func NewCompressor() *Compressor {
	return &Compressor{
		compressionLevel: flate.DefaultCompression,
		maxSize:          DefaultMaxSize,
	}
}

// NewCompressorWithLevel creates a new compressor with specified compression level
func NewCompressorWithLevel(level int) *Compressor {
	c := NewCompressor()
	c.compressionLevel = level
	return c
}

// WithMaxSize sets the decompressed size limit. Non-positive values keep the default.
func (c *Compressor) WithMaxSize(n int64) *Compressor {
	if n > 0 {
		c.maxSize = n
	}
	return c
}

// MaxSize returns the decompressed size limit
func (c *Compressor) MaxSize() int64 {
	return c.maxSize
}

// IsGzip reports whether data starts with the GZIP magic bytes
func IsGzip(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Compress compresses data using GZIP
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, c.compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Deflate compresses data as a raw DEFLATE stream
func (c *Compressor) Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := flate.NewWriter(&buf, c.compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close deflate writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress inflates data, reading GZIP when the magic bytes are present
// and raw DEFLATE otherwise.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var reader io.ReadCloser
	if IsGzip(data) {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		reader = gz
	} else {
		reader = flate.NewReader(bytes.NewReader(data))
	}
	defer reader.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(reader, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed data: %w", err)
	}
	if n > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, c.maxSize)
	}

	return buf.Bytes(), nil
}

// DecodeBase64 decodes base64 text and inflates the result.
// Whitespace inside the text is ignored.
func (c *Compressor) DecodeBase64(text string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, text)
	if clean == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	return c.Decompress(raw)
}

// EncodeBase64 deflates data and returns it as base64 text
func (c *Compressor) EncodeBase64(data []byte) (string, error) {
	deflated, err := c.Deflate(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(deflated), nil
}
