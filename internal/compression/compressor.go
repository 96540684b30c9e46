// Package compression implements the pluggable payload compressors of
// spec §4.4: snappy, zlib and zstd selected by wire id, with noop always
// available. Compression is performed over a contiguous copy of the
// source, matching spec §4.4's "the framing format does not support
// streaming".
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/ezbuy/mgo-core/internal/wire"
)

// Compressor is a pluggable payload codec selected by wire id.
type Compressor interface {
	Name() string
	ID() wire.CompressorID
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, uncompressedSize int32) ([]byte, error)
}

// Noop is always available, per spec §4.4, and is the identity codec.
type Noop struct{}

func (Noop) Name() string               { return "noop" }
func (Noop) ID() wire.CompressorID      { return wire.CompressorNoop }
func (Noop) Compress(src []byte) ([]byte, error) { return src, nil }
func (Noop) Decompress(src []byte, _ int32) ([]byte, error) { return src, nil }

// Snappy compresses with github.com/golang/snappy, the library the real
// mongo-go-driver depends on for this mechanism (see DESIGN.md).
type Snappy struct{}

func (Snappy) Name() string          { return "snappy" }
func (Snappy) ID() wire.CompressorID { return wire.CompressorSnappy }

func (Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (Snappy) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	dst := make([]byte, uncompressedSize)
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	return out, nil
}

// Zlib compresses with klauspost/compress's zlib, kept at the same
// import family as the zstd codec below rather than mixing in the
// stdlib implementation (see SPEC_FULL.md §6).
type Zlib struct {
	// Level is the compression level; 0 selects the package default.
	Level int
}

func (Zlib) Name() string          { return "zlib" }
func (Zlib) ID() wire.CompressorID { return wire.CompressorZlib }

func (z Zlib) Compress(src []byte) ([]byte, error) {
	level := z.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return buf.Bytes(), nil
}

func (Zlib) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer r.Close()
	dst := make([]byte, 0, uncompressedSize)
	buf := bytes.NewBuffer(dst)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return buf.Bytes(), nil
}

// Zstd compresses with klauspost/compress/zstd.
type Zstd struct{}

func (Zstd) Name() string          { return "zstd" }
func (Zstd) ID() wire.CompressorID { return wire.CompressorZstd }

func (Zstd) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (Zstd) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// ByID returns the known Compressor for id, or (nil, false) if id is
// unrecognized.
func ByID(id wire.CompressorID) (Compressor, bool) {
	switch id {
	case wire.CompressorNoop:
		return Noop{}, true
	case wire.CompressorSnappy:
		return Snappy{}, true
	case wire.CompressorZlib:
		return Zlib{}, true
	case wire.CompressorZstd:
		return Zstd{}, true
	default:
		return nil, false
	}
}

// ByName returns the known Compressor for a wire compressor name
// ("snappy", "zlib", "zstd"), or (nil, false) if unrecognized.
func ByName(name string) (Compressor, bool) {
	switch name {
	case "snappy":
		return Snappy{}, true
	case "zlib":
		return Zlib{}, true
	case "zstd":
		return Zstd{}, true
	default:
		return nil, false
	}
}

// Negotiate picks the first entry of clientNames that also appears in
// serverNames, per spec §4.4. If none match, compression is disabled
// (nil, false is returned, not an error: disabled compression is a valid
// outcome, not a failure).
func Negotiate(clientNames, serverNames []string) (Compressor, bool) {
	serverSet := make(map[string]bool, len(serverNames))
	for _, n := range serverNames {
		serverSet[n] = true
	}
	for _, n := range clientNames {
		if serverSet[n] {
			if c, ok := ByName(n); ok {
				return c, true
			}
		}
	}
	return nil, false
}
