// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"
)

// fileState is the JSON form of State.
type fileState struct {
	PID               string            `json:"pid"`
	SigningKeySeed    []byte            `json:"signing_key_seed"`
	SigningPublicKey  []byte            `json:"signing_public_key"`
	ProtocolVersion   uint16            `json:"protocol_version"`
	Ciphersuite       uint16            `json:"ciphersuite"`
	WelcomeCounter    uint64            `json:"welcome_counter"`
	KeyPackageCounter uint64            `json:"key_package_counter"`
	KeyPackageIndexes map[string]uint64 `json:"key_package_indexes"`
	KeyPackages       map[string][]byte `json:"key_packages"`
	Peers             []string          `json:"peers"`
	GroupIDs          []string          `json:"gids"`
	ProtocolStorage   map[string][]byte `json:"protocol_storage"`
}

// Load reads the state file at path. Every failure wraps ErrStateIO;
// a missing file additionally wraps fs.ErrNotExist.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStateIO, path, err)
	}

	var file fileState
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrStateIO, path, err)
	}

	state, err := file.toState()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStateIO, path, err)
	}
	return state, nil
}

func (file *fileState) toState() (*State, error) {
	if file.PID == "" {
		return nil, fmt.Errorf("missing pid")
	}
	if len(file.SigningKeySeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed is %d bytes, want %d", len(file.SigningKeySeed), ed25519.SeedSize)
	}
	signingKey := ed25519.NewKeyFromSeed(file.SigningKeySeed)
	if file.SigningPublicKey != nil && !signingKey.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(file.SigningPublicKey)) {
		return nil, fmt.Errorf("signing public key does not match seed")
	}
	if file.ProtocolVersion != ProtocolVersion || file.Ciphersuite != Ciphersuite {
		return nil, fmt.Errorf("unsupported protocol version %d / ciphersuite %d", file.ProtocolVersion, file.Ciphersuite)
	}

	storage := make(map[string][]byte, len(file.ProtocolStorage))
	for encodedKey, value := range file.ProtocolStorage {
		key, err := hex.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("protocol storage key %q: %w", encodedKey, err)
		}
		if value == nil {
			value = []byte{}
		}
		storage[string(key)] = value
	}

	state := &State{
		PID:               file.PID,
		SigningKey:        signingKey,
		ProtocolVersion:   file.ProtocolVersion,
		Ciphersuite:       file.Ciphersuite,
		WelcomeCounter:    file.WelcomeCounter,
		KeyPackageCounter: file.KeyPackageCounter,
		KeyPackageIndexes: file.KeyPackageIndexes,
		KeyPackages:       file.KeyPackages,
		Peers:             file.Peers,
		GroupIDs:          file.GroupIDs,
		ProtocolStorage:   storage,
	}
	if state.KeyPackageIndexes == nil {
		state.KeyPackageIndexes = make(map[string]uint64)
	}
	if state.KeyPackages == nil {
		state.KeyPackages = make(map[string][]byte)
	}
	slices.Sort(state.Peers)
	state.Peers = slices.Compact(state.Peers)
	slices.Sort(state.GroupIDs)
	state.GroupIDs = slices.Compact(state.GroupIDs)
	return state, nil
}

func (s *State) toFile() fileState {
	storage := make(map[string][]byte, len(s.ProtocolStorage))
	for key, value := range s.ProtocolStorage {
		storage[hex.EncodeToString([]byte(key))] = value
	}
	peers := s.Peers
	if peers == nil {
		peers = []string{}
	}
	groupIDs := s.GroupIDs
	if groupIDs == nil {
		groupIDs = []string{}
	}
	return fileState{
		PID:               s.PID,
		SigningKeySeed:    s.SigningKey.Seed(),
		SigningPublicKey:  s.SigningPublicKey(),
		ProtocolVersion:   s.ProtocolVersion,
		Ciphersuite:       s.Ciphersuite,
		WelcomeCounter:    s.WelcomeCounter,
		KeyPackageCounter: s.KeyPackageCounter,
		KeyPackageIndexes: s.KeyPackageIndexes,
		KeyPackages:       s.KeyPackages,
		Peers:             peers,
		GroupIDs:          groupIDs,
		ProtocolStorage:   storage,
	}
}

// Save atomically writes the state to path with mode 0600: the JSON is
// written to a temporary file in the same directory, fsynced, and
// renamed into place. The parent directory must exist.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s.toFile(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling state: %w", ErrStateIO, err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: creating temporary state file: %w", ErrStateIO, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: writing temporary state file: %w", ErrStateIO, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: syncing temporary state file: %w", ErrStateIO, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: closing temporary state file: %w", ErrStateIO, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: renaming state file into place: %w", ErrStateIO, err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// FileLock is a held advisory lock on a state file.
type FileLock struct {
	file *os.File
}

// Lock takes an exclusive, non-blocking flock on path + ".lock". If
// another process holds it, Lock returns an error wrapping
// ErrStateLocked. The lock is released by Unlock or process exit.
func Lock(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	file, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lock file: %w", ErrStateIO, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", lockPath, ErrStateLocked)
		}
		return nil, fmt.Errorf("%w: locking %s: %w", ErrStateIO, lockPath, err)
	}
	return &FileLock{file: file}, nil
}

// Unlock releases the lock. The lock file is left in place; removing
// it would race with a process that has opened but not yet locked it.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

// Exists reports whether a state file is present at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %w", ErrStateIO, err)
}
