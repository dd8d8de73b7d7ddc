// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm recorded in the first byte of a
// compressed payload. The values are part of the stored format.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd". The empty string
// means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", name)
	}
}

// minCompressSize is the payload size below which compression is not
// attempted.
const minCompressSize = 64

// maxPayloadSize bounds the declared uncompressed size accepted on
// decode.
const maxPayloadSize = 64 << 20

var _ Adapter = (*CompressingAdapter)(nil)

// CompressingAdapter frames every payload as
//
//	tag (1 byte) | uncompressed size (uvarint) | body
//
// and compresses the body with the configured algorithm. Payloads that
// are small or do not shrink are stored with CompressionNone. Fetches
// accept any tag, so the algorithm can change between runs. A frame
// that fails to decode is reported as ErrCorruptPayload.
type CompressingAdapter struct {
	inner     Adapter
	algorithm Compression
}

// NewCompressingAdapter wraps inner.
func NewCompressingAdapter(inner Adapter, algorithm Compression) *CompressingAdapter {
	return &CompressingAdapter{inner: inner, algorithm: algorithm}
}

func (c *CompressingAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error) {
	framed, err := encodeFrame(payload, c.algorithm)
	if err != nil {
		return 0, err
	}
	return c.inner.Publish(ctx, namespace, owner, framed)
}

func (c *CompressingAdapter) PublishAt(ctx context.Context, namespace, owner string, index uint64, payload []byte) error {
	framed, err := encodeFrame(payload, c.algorithm)
	if err != nil {
		return err
	}
	return c.inner.PublishAt(ctx, namespace, owner, index, framed)
}

func (c *CompressingAdapter) FetchAt(ctx context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	framed, found, err := c.inner.FetchAt(ctx, namespace, owner, index)
	if err != nil || !found {
		return nil, found, err
	}
	payload, err := decodeFrame(framed)
	if err != nil {
		address := Address{Namespace: namespace, Owner: owner, Index: index}
		return nil, false, fmt.Errorf("fetch %s: %w: %w", address, ErrCorruptPayload, err)
	}
	return payload, true, nil
}

func encodeFrame(payload []byte, algorithm Compression) ([]byte, error) {
	body := payload
	tag := CompressionNone
	if len(payload) >= minCompressSize && algorithm != CompressionNone {
		compressed, err := compressBody(payload, algorithm)
		switch {
		case err == errIncompressible:
		case err != nil:
			return nil, err
		default:
			body = compressed
			tag = algorithm
		}
	}

	framed := make([]byte, 0, 1+binary.MaxVarintLen64+len(body))
	framed = append(framed, byte(tag))
	framed = binary.AppendUvarint(framed, uint64(len(payload)))
	return append(framed, body...), nil
}

func decodeFrame(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("frame too short (%d bytes)", len(framed))
	}
	tag := Compression(framed[0])
	size, n := binary.Uvarint(framed[1:])
	if n <= 0 {
		return nil, fmt.Errorf("invalid size header")
	}
	if size > maxPayloadSize {
		return nil, fmt.Errorf("declared size %d exceeds limit %d", size, maxPayloadSize)
	}
	body := framed[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("uncompressed body is %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(result)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown compression tag %d", uint8(tag))
	}
}

// errIncompressible means compression did not shrink the payload.
var errIncompressible = fmt.Errorf("payload is incompressible")

func compressBody(data []byte, algorithm Compression) ([]byte, error) {
	switch algorithm {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", algorithm)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("adapter: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
	if err != nil {
		panic("adapter: zstd decoder initialization failed: " + err.Error())
	}
}
