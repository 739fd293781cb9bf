// Package codec provides pluggable encoding for cached payloads at rest.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Codec encodes payload bytes for storage and decodes them back. The
// round trip must be lossless.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Gzip compresses payloads with standard gzip.
type Gzip struct{}

// Encode gzip-compresses data.
func (Gzip) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode decompresses gzip data.
func (Gzip) Decode(data []byte) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed payload: %w", err)
	}
	defer gzr.Close()

	out, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}

	return out, nil
}

// Nop stores payloads verbatim.
type Nop struct{}

// Encode returns data unchanged.
func (Nop) Encode(data []byte) ([]byte, error) {
	return data, nil
}

// Decode returns data unchanged.
func (Nop) Decode(data []byte) ([]byte, error) {
	return data, nil
}
