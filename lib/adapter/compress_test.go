// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
)

func TestCompressingAdapterRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("group commit payload "), 64)
	random := make([]byte, 4096)
	rand.Read(random)

	for _, algorithm := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(algorithm.String(), func(t *testing.T) {
			inner := NewMemoryAdapter()
			backend := NewCompressingAdapter(inner, algorithm)
			exerciseAdapter(t, backend)

			ctx := context.Background()
			for _, payload := range [][]byte{compressible, random, {}, []byte("tiny")} {
				index, err := backend.Publish(ctx, NamespaceCommit, "g", payload)
				if err != nil {
					t.Fatalf("Publish: %v", err)
				}
				got, found, err := backend.FetchAt(ctx, NamespaceCommit, "g", index)
				if err != nil || !found {
					t.Fatalf("FetchAt: found %v, err %v", found, err)
				}
				if !bytes.Equal(got, payload) {
					t.Fatalf("round trip of %d bytes mismatched", len(payload))
				}
			}

			stored, _, _ := inner.FetchAt(ctx, NamespaceCommit, "g", 0)
			if algorithm != CompressionNone && len(stored) >= len(compressible) {
				t.Fatalf("compressible payload stored at %d bytes, input %d", len(stored), len(compressible))
			}
			if Compression(stored[0]) != algorithm {
				t.Fatalf("stored tag %d, want %s", stored[0], algorithm)
			}

			stored, _, _ = inner.FetchAt(ctx, NamespaceCommit, "g", 1)
			if Compression(stored[0]) != CompressionNone {
				t.Fatalf("incompressible payload stored with tag %d", stored[0])
			}
		})
	}
}

func TestCompressingAdapterReadsAnyTag(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryAdapter()
	payload := bytes.Repeat([]byte("abcd"), 100)

	if _, err := NewCompressingAdapter(inner, CompressionZstd).Publish(ctx, NamespaceWelcome, "p", payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, found, err := NewCompressingAdapter(inner, CompressionLZ4).FetchAt(ctx, NamespaceWelcome, "p", 0)
	if err != nil || !found || !bytes.Equal(got, payload) {
		t.Fatalf("cross-algorithm fetch: found %v, err %v", found, err)
	}
}

func TestCompressingAdapterCorruption(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		stored []byte
	}{
		{name: "empty", stored: []byte{}},
		{name: "unknown tag", stored: []byte{9, 1, 0}},
		{name: "size mismatch", stored: []byte{0, 5, 'a', 'b'}},
		{name: "bad size header", stored: []byte{0, 0xFF}},
		{name: "garbage lz4", stored: []byte{1, 50, 0xFF, 0xFF, 0xFF}},
		{name: "garbage zstd", stored: []byte{2, 50, 1, 2, 3, 4}},
		{name: "oversized", stored: []byte{0, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			inner := NewMemoryAdapter()
			inner.Overwrite(Address{Namespace: NamespaceCommit, Owner: "g", Index: 0}, test.stored)

			_, found, err := NewCompressingAdapter(inner, CompressionNone).FetchAt(ctx, NamespaceCommit, "g", 0)
			if !errors.Is(err, ErrCorruptPayload) {
				t.Fatalf("got %v, want ErrCorruptPayload", err)
			}
			if found {
				t.Fatal("corrupt payload reported as found")
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{
		"":     CompressionNone,
		"none": CompressionNone,
		"lz4":  CompressionLZ4,
		"zstd": CompressionZstd,
	} {
		got, err := ParseCompression(name)
		if err != nil {
			t.Fatalf("ParseCompression(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseCompression(%q) = %s, want %s", name, got, want)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}
