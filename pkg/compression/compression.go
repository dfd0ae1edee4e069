// Package compression decodes the containers crash uploads arrive in.
// Minidumps are uploaded raw or wrapped in gzip, zstd or an lz4 frame.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression container.
type Type uint8

const (
	TypeGzip Type = 0
	TypeZstd Type = 1
	TypeLZ4  Type = 2
	// TypeNone is an uncompressed payload.
	TypeNone Type = 255
)

// String returns the container name.
func (t Type) String() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeLZ4:
		return "lz4"
	case TypeNone:
		return "none"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Level represents the compression level.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Compressor compresses and decompresses whole buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
	Name() string
}

// GzipCompressor implements Compressor using gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a new gzip compressor.
func NewGzipCompressor(level Level) *GzipCompressor {
	switch level {
	case LevelFastest:
		return &GzipCompressor{level: gzip.BestSpeed}
	case LevelBest:
		return &GzipCompressor{level: gzip.BestCompression}
	default:
		return &GzipCompressor{level: gzip.DefaultCompression}
	}
}

// Compress compresses data using gzip.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return finish(&buf, w, data, "gzip")
}

// Decompress decompresses gzip data.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *GzipCompressor) Type() Type   { return TypeGzip }
func (c *GzipCompressor) Name() string { return "gzip" }

// ZstdCompressor implements Compressor using zstd. It is safe for
// concurrent use.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a new zstd compressor.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	zl := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		zl = zstd.SpeedFastest
	case LevelBest:
		zl = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Compress compresses data using zstd.
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decompresses zstd data.
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Type() Type   { return TypeZstd }
func (c *ZstdCompressor) Name() string { return "zstd" }

// Close releases the encoder and decoder.
func (c *ZstdCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// LZ4Compressor implements Compressor using the lz4 frame format.
type LZ4Compressor struct {
	level lz4.CompressionLevel
}

// NewLZ4Compressor creates a new lz4 compressor.
func NewLZ4Compressor(level Level) *LZ4Compressor {
	switch level {
	case LevelFastest:
		return &LZ4Compressor{level: lz4.Fast}
	case LevelBest:
		return &LZ4Compressor{level: lz4.Level9}
	default:
		return &LZ4Compressor{level: lz4.Level3}
	}
}

// Compress compresses data into a single lz4 frame.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, fmt.Errorf("failed to configure lz4 writer: %w", err)
	}
	return finish(&buf, w, data, "lz4")
}

// Decompress decompresses an lz4 frame.
func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read lz4 data: %w", err)
	}
	return out, nil
}

func (c *LZ4Compressor) Type() Type   { return TypeLZ4 }
func (c *LZ4Compressor) Name() string { return "lz4" }

// NoOpCompressor passes data through unchanged.
type NoOpCompressor struct{}

// NewNoOpCompressor creates a new no-op compressor.
func NewNoOpCompressor() *NoOpCompressor { return &NoOpCompressor{} }

func (c *NoOpCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (c *NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (c *NoOpCompressor) Type() Type                             { return TypeNone }
func (c *NoOpCompressor) Name() string                           { return "none" }

func finish(buf *bytes.Buffer, w io.WriteCloser, data []byte, name string) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write %s data: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", name, err)
	}
	return buf.Bytes(), nil
}

// New creates a compressor by type and level.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeLZ4:
		return NewLZ4Compressor(level), nil
	case TypeNone:
		return NewNoOpCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// DetectType detects the container from its magic bytes. Anything else,
// a raw MDMP header included, is TypeNone.
func DetectType(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, magicZstd):
		return TypeZstd
	case bytes.HasPrefix(data, magicLZ4):
		return TypeLZ4
	case bytes.HasPrefix(data, magicGzip):
		return TypeGzip
	default:
		return TypeNone
	}
}

// AutoDecompress detects the container and decompresses data.
func AutoDecompress(data []byte) ([]byte, Type, error) {
	t := DetectType(data)
	c, err := New(t, LevelDefault)
	if err != nil {
		return nil, t, err
	}
	defer Close(c)
	out, err := c.Decompress(data)
	if err != nil {
		return nil, t, fmt.Errorf("%s: %w", t, err)
	}
	return out, t, nil
}

// Closeable is implemented by compressors that hold resources.
type Closeable interface {
	Close()
}

// Close closes a compressor if it implements Closeable.
func Close(c Compressor) {
	if closer, ok := c.(Closeable); ok {
		closer.Close()
	}
}
