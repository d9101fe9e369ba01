// Package archive handles the compressed containers the pipeline reads and
// writes: gzip JSON documents, gzip or zstd collection files, and tar.gz
// bundles of generated structures.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decoder decompresses collection payloads by file suffix.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a decoder with a single-threaded zstd reader.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decompress returns the plain bytes of data, choosing the codec from the
// name: ".gz" is gzip, ".zst" is zstd, anything else is returned unchanged.
func (d *Decoder) Decompress(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return Gunzip(data)
	case strings.HasSuffix(name, ".zst"):
		out, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s: %w", name, err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// Gunzip decompresses a gzip payload.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}

// Gzip compresses data with the default level.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalGzipJSON encodes v as indented JSON and gzips it.
func MarshalGzipJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return Gzip(data)
}

// UnmarshalGzipJSON gunzips data and decodes the JSON document into v.
func UnmarshalGzipJSON(data []byte, v any) error {
	plain, err := Gunzip(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
