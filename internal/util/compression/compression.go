// Package compression compresses stored content bodies.
package compression

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ForName returns the compressor configured by name: "zstd" (default), "gzip" or "none".
func ForName(name string) (Compressor, error) {
	switch name {
	case "", "zstd":
		return ZstdCompressor{}, nil
	case "gzip":
		return GzipCompressor{}, nil
	case "none":
		return NoopCompressor{}, nil
	}
	return nil, errors.Errorf("unknown compression: %q", name)
}

type NoopCompressor struct{}

func (NoopCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (NoopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// EncodeAll and DecodeAll are safe for concurrent use, so one coder serves every call.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

type ZstdCompressor struct{}

func (ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, errors.Wrap(err, "zstd encoder")
	}
	return enc.EncodeAll(data, nil), nil
}

func (ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, errors.Wrap(err, "zstd decoder")
	}
	out, err := dec.DecodeAll(data, nil)
	return out, errors.Wrap(err, "zstd decode")
}

type GzipCompressor struct{}

func (GzipCompressor) Compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "gzip write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return b.Bytes(), nil
}

func (GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "gzip header")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	return out, errors.Wrap(err, "gzip decode")
}
