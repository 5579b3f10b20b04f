package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Compressor compresses and decompresses whole payloads.
type Compressor interface {
	// Name returns the compression type used in configuration.
	Name() string

	// Extension returns the file suffix, including the dot, or "" for none.
	Extension() string

	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// CompressorByName returns the compressor for a compression_type value.
func CompressorByName(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return None{}, nil
	case "gzip", "gz":
		return Gzip{Level: gzip.DefaultCompression}, nil
	case "bz2", "bzip2":
		return Bzip2{Level: bzip2.DefaultCompression}, nil
	case "xz", "lzma":
		return XZ{}, nil
	}
	return nil, fmt.Errorf("unknown compression type %q", name)
}

// None stores payloads as-is.
type None struct{}

func (None) Name() string                           { return "none" }
func (None) Extension() string                      { return "" }
func (None) Compress(data []byte) ([]byte, error)   { return data, nil }
func (None) Decompress(data []byte) ([]byte, error) { return data, nil }

// Gzip compresses with compress/gzip.
type Gzip struct {
	Level int
}

func (Gzip) Name() string      { return "gzip" }
func (Gzip) Extension() string { return ".gz" }

// Compress implements Compressor.
func (g Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.Level)
	if err != nil {
		return nil, err
	}
	return finish(&buf, w, data)
}

// Decompress implements Compressor.
func (Gzip) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Bzip2 compresses with github.com/dsnet/compress/bzip2.
type Bzip2 struct {
	Level int
}

func (Bzip2) Name() string      { return "bz2" }
func (Bzip2) Extension() string { return ".bz2" }

// Compress implements Compressor.
func (b Bzip2) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: b.Level})
	if err != nil {
		return nil, err
	}
	return finish(&buf, w, data)
}

// Decompress implements Compressor.
func (Bzip2) Decompress(data []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("bzip2: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// XZ compresses with github.com/ulikunitz/xz.
type XZ struct{}

func (XZ) Name() string      { return "xz" }
func (XZ) Extension() string { return ".xz" }

// Compress implements Compressor.
func (XZ) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	return finish(&buf, w, data)
}

// Decompress implements Compressor.
func (XZ) Decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	return io.ReadAll(r)
}

func finish(buf *bytes.Buffer, w io.WriteCloser, data []byte) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
