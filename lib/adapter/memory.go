// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var _ Adapter = (*MemoryAdapter)(nil)

var (
	// errInjected is the cause reported by injected failures.
	errInjected = errors.New("injected failure")

	errResponseLost = errors.New("injected lost response")
)

// MemoryAdapter is an in-process Adapter for tests. Several agents
// sharing one MemoryAdapter exchange payloads without touching disk.
type MemoryAdapter struct {
	mu       sync.Mutex
	values   map[Address][]byte
	failures map[Address]int
	lost     map[Address]int
	fetches  int
	writes   int
}

// NewMemoryAdapter creates an empty in-process adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		values:   make(map[Address][]byte),
		failures: make(map[Address]int),
		lost:     make(map[Address]int),
	}
}

func (m *MemoryAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error) {
	return publishNext(ctx, m, namespace, owner, payload)
}

func (m *MemoryAdapter) PublishAt(_ context.Context, namespace, owner string, index uint64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	address := Address{Namespace: namespace, Owner: owner, Index: index}
	if err := m.takeFailure(address); err != nil {
		return err
	}
	if _, exists := m.values[address]; exists {
		return ErrIndexTaken
	}
	m.values[address] = bytes.Clone(payload)
	m.writes++
	if m.lost[address] > 0 {
		m.lost[address]--
		return unavailable("memory", address, errResponseLost)
	}
	return nil
}

func (m *MemoryAdapter) FetchAt(_ context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	address := Address{Namespace: namespace, Owner: owner, Index: index}
	m.fetches++
	if err := m.takeFailure(address); err != nil {
		return nil, false, err
	}
	value, exists := m.values[address]
	if !exists {
		return nil, false, nil
	}
	return bytes.Clone(value), true, nil
}

// FailAt makes the next count calls touching address fail with
// ErrUnavailable.
func (m *MemoryAdapter) FailAt(address Address, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[address] += count
}

// LoseResponseAt makes the next count successful writes to address
// report ErrUnavailable after the payload is stored.
func (m *MemoryAdapter) LoseResponseAt(address Address, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost[address] += count
}

// Overwrite replaces the stored value at address regardless of the
// append-only rule, for tests that simulate corrupted storage.
func (m *MemoryAdapter) Overwrite(address Address, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[address] = bytes.Clone(payload)
}

// Len returns the number of stored payloads in the (namespace, owner)
// stream, counting contiguous indexes from zero.
func (m *MemoryAdapter) Len(namespace, owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for {
		if _, exists := m.values[Address{Namespace: namespace, Owner: owner, Index: uint64(count)}]; !exists {
			return count
		}
		count++
	}
}

// Writes returns the number of successful PublishAt calls so far.
func (m *MemoryAdapter) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryAdapter) takeFailure(address Address) error {
	if m.failures[address] == 0 {
		return nil
	}
	m.failures[address]--
	return unavailable("memory", address, errInjected)
}
