// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"slices"
	"strings"
)

// Bridge is the group-key engine's storage view of a State's protocol
// storage. It copies bytes in both directions so neither side can
// mutate the other's slices.
type Bridge struct {
	storage map[string][]byte
}

// Get returns a copy of the value at key.
func (b *Bridge) Get(key []byte) ([]byte, bool) {
	value, found := b.storage[string(key)]
	if !found {
		return nil, false
	}
	return slices.Clone(value), true
}

// Set stores a copy of value at key.
func (b *Bridge) Set(key, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	b.storage[string(key)] = stored
}

// Delete removes key. Deleting an absent key is a no-op.
func (b *Bridge) Delete(key []byte) {
	delete(b.storage, string(key))
}

// Keys returns every key starting with prefix, in byte order.
func (b *Bridge) Keys(prefix []byte) [][]byte {
	var keys []string
	for key := range b.storage {
		if strings.HasPrefix(key, string(prefix)) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	result := make([][]byte, len(keys))
	for i, key := range keys {
		result[i] = []byte(key)
	}
	return result
}

// Len returns the number of stored entries.
func (b *Bridge) Len() int {
	return len(b.storage)
}
