// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"slices"
	"strings"
	"testing"
)

// memoryStorage is a map-backed Storage for tests.
type memoryStorage map[string][]byte

func (m memoryStorage) Get(key []byte) ([]byte, bool) {
	value, ok := m[string(key)]
	return bytes.Clone(value), ok
}

func (m memoryStorage) Set(key, value []byte) {
	m[string(key)] = bytes.Clone(value)
}

func (m memoryStorage) Delete(key []byte) {
	delete(m, string(key))
}

func (m memoryStorage) Keys(prefix []byte) [][]byte {
	var keys [][]byte
	for key := range m {
		if strings.HasPrefix(key, string(prefix)) {
			keys = append(keys, []byte(key))
		}
	}
	slices.SortFunc(keys, bytes.Compare)
	return keys
}

func newTestProvider(t *testing.T, identity string) *Provider {
	t.Helper()
	_, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return NewProvider(memoryStorage{}, identity, signingKey)
}

// publishedKeyPackage creates a key package for p and returns it as a
// peer would see it: parsed from its encoding.
func publishedKeyPackage(t *testing.T, p *Provider) *KeyPackage {
	t.Helper()
	created, err := p.NewKeyPackage()
	if err != nil {
		t.Fatalf("NewKeyPackage(%s): %v", p.Identity(), err)
	}
	parsed, err := ParseKeyPackage(created.Encoded())
	if err != nil {
		t.Fatalf("ParseKeyPackage(%s): %v", p.Identity(), err)
	}
	return parsed
}
