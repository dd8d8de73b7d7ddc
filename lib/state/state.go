// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ProtocolVersion and Ciphersuite identify the group-key protocol a
// state was created for. Loading a state with other values fails.
const (
	ProtocolVersion uint16 = 1
	Ciphersuite     uint16 = 1
)

var (
	// ErrStateIO wraps every failure to read, parse, or write the state
	// file.
	ErrStateIO = errors.New("state file I/O")

	// ErrStateLocked means another process holds the state file lock.
	ErrStateLocked = errors.New("state file locked by another process")
)

// State is the agent's root persisted record. It is not safe for
// concurrent use; one agent run owns it.
type State struct {
	PID        string
	SigningKey ed25519.PrivateKey

	ProtocolVersion uint16
	Ciphersuite     uint16

	// WelcomeCounter is the next index to fetch from this agent's
	// welcome stream.
	WelcomeCounter uint64

	// KeyPackageCounter is the next index to fetch from the shared key
	// package directory stream.
	KeyPackageCounter uint64

	// KeyPackageIndexes is the next index to fetch from each peer's own
	// key package stream.
	KeyPackageIndexes map[string]uint64

	// KeyPackages holds the latest verified encoded key package per
	// peer pid.
	KeyPackages map[string][]byte

	// Peers are pids whose key package streams are polled even if they
	// have not appeared in the directory stream. Sorted.
	Peers []string

	// GroupIDs are the groups this agent is a member of. Sorted,
	// without duplicates.
	GroupIDs []string

	// ProtocolStorage is the engine's storage, keyed by raw bytes
	// (stored as string).
	ProtocolStorage map[string][]byte
}

// New creates a fresh state with pid "<prefix>_<8 hex digits>" and a
// new signing key, drawing randomness from random (crypto/rand if nil).
func New(prefix string, random io.Reader) (*State, error) {
	if prefix == "" {
		return nil, fmt.Errorf("pid prefix is required")
	}
	if strings.ContainsAny(prefix, " \t\n/") {
		return nil, fmt.Errorf("pid prefix %q must not contain whitespace or '/'", prefix)
	}
	if random == nil {
		random = rand.Reader
	}

	suffix := make([]byte, 4)
	if _, err := io.ReadFull(random, suffix); err != nil {
		return nil, fmt.Errorf("generating pid suffix: %w", err)
	}
	_, signingKey, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	return &State{
		PID:               prefix + "_" + hex.EncodeToString(suffix),
		SigningKey:        signingKey,
		ProtocolVersion:   ProtocolVersion,
		Ciphersuite:       Ciphersuite,
		KeyPackageIndexes: make(map[string]uint64),
		KeyPackages:       make(map[string][]byte),
		ProtocolStorage:   make(map[string][]byte),
	}, nil
}

// SigningPublicKey returns the public half of the signing key.
func (s *State) SigningPublicKey() ed25519.PublicKey {
	return s.SigningKey.Public().(ed25519.PublicKey)
}

// HasGroup reports whether gid is in GroupIDs.
func (s *State) HasGroup(gid string) bool {
	_, found := slices.BinarySearch(s.GroupIDs, gid)
	return found
}

// AddGroup inserts gid into GroupIDs, reporting whether it was new.
func (s *State) AddGroup(gid string) bool {
	position, found := slices.BinarySearch(s.GroupIDs, gid)
	if found {
		return false
	}
	s.GroupIDs = slices.Insert(s.GroupIDs, position, gid)
	return true
}

// AddPeer inserts pid into Peers, reporting whether it was new. The
// agent's own pid is never added.
func (s *State) AddPeer(pid string) bool {
	if pid == "" || pid == s.PID {
		return false
	}
	position, found := slices.BinarySearch(s.Peers, pid)
	if found {
		return false
	}
	s.Peers = slices.Insert(s.Peers, position, pid)
	return true
}

// PeersOfInterest returns the sorted union of Peers and the owners of
// stored key packages, excluding the agent itself.
func (s *State) PeersOfInterest() []string {
	pids := slices.Clone(s.Peers)
	for pid := range s.KeyPackages {
		pids = append(pids, pid)
	}
	for pid := range s.KeyPackageIndexes {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	pids = slices.Compact(pids)
	return slices.DeleteFunc(pids, func(pid string) bool { return pid == s.PID })
}

// KnownPeers returns the sorted pids with a stored key package.
func (s *State) KnownPeers() []string {
	pids := make([]string, 0, len(s.KeyPackages))
	for pid := range s.KeyPackages {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids
}

// SetKeyPackage stores (or replaces) the key package for pid.
func (s *State) SetKeyPackage(pid string, encoded []byte) {
	s.KeyPackages[pid] = slices.Clone(encoded)
}

// Bridge returns the storage bridge over ProtocolStorage.
func (s *State) Bridge() *Bridge {
	return &Bridge{storage: s.ProtocolStorage}
}
