// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"
)

// Namespaces used by the agent.
const (
	NamespaceKeyPackage = "keypackage"
	NamespaceWelcome    = "welcome"
	NamespaceCommit     = "commit"
)

// DirectoryOwner is the owner key of the shared key package stream every
// agent advertises to, used for peer discovery.
const DirectoryOwner = "_directory"

var (
	// ErrUnavailable wraps transport and storage failures. Retryable.
	ErrUnavailable = errors.New("adapter unavailable")

	// ErrIndexTaken is returned by PublishAt when the index already
	// holds a value.
	ErrIndexTaken = errors.New("index already published")

	// ErrCorruptPayload means a stored value could not be decoded.
	ErrCorruptPayload = errors.New("corrupt payload")
)

// Adapter publishes and fetches opaque payloads at indexed addresses.
type Adapter interface {
	// Publish appends payload at the next free index of the
	// (namespace, owner) stream and returns that index. Success means
	// the payload is durably stored.
	Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error)

	// PublishAt stores payload at exactly index. Returns an error
	// wrapping ErrIndexTaken if the index already holds a value.
	PublishAt(ctx context.Context, namespace, owner string, index uint64, payload []byte) error

	// FetchAt returns the payload at index. found is false, with a nil
	// error, when nothing has been published there.
	FetchAt(ctx context.Context, namespace, owner string, index uint64) (payload []byte, found bool, err error)
}

// Address identifies one payload slot.
type Address struct {
	Namespace string
	Owner     string
	Index     uint64
}

// String renders the address for logs and metrics.
func (a Address) String() string {
	return a.Namespace + "/" + a.Owner + "/" + strconv.FormatUint(a.Index, 10)
}

// FileName is the deterministic file name used by [FileAdapter]. The
// owner is hex-encoded so pids and group ids containing path
// separators or dots cannot escape the directory or collide.
func (a Address) FileName() string {
	return a.Namespace + "." + hex.EncodeToString([]byte(a.Owner)) + "." + strconv.FormatUint(a.Index, 10)
}

// dhtKeyContext domain-separates DHT keys from other BLAKE3 uses.
const dhtKeyContext = "sgm 2026 adapter dht key"

// DHTKey is the deterministic 160-bit key used by [DHTAdapter],
// hex-encoded. OpenDHT hashes string keys to InfoHash width (20 bytes),
// so the proxy accepts this value as an already-hashed key.
func (a Address) DHTKey() string {
	hasher := blake3.NewDeriveKey(dhtKeyContext)
	hasher.Write([]byte(a.String()))
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:20])
}

// unavailable wraps err with ErrUnavailable and the address.
func unavailable(operation string, address Address, err error) error {
	return fmt.Errorf("%s %s: %w: %w", operation, address, ErrUnavailable, err)
}

// publishNext implements Publish for backends without a native append:
// probe forward from index 0 to the first empty slot, then claim it,
// moving on if another publisher claims it first.
func publishNext(ctx context.Context, backend Adapter, namespace, owner string, payload []byte) (uint64, error) {
	var index uint64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, found, err := backend.FetchAt(ctx, namespace, owner, index)
		if err != nil && !errors.Is(err, ErrCorruptPayload) {
			return 0, err
		}
		if found || err != nil {
			index++
			continue
		}
		err = backend.PublishAt(ctx, namespace, owner, index, payload)
		if errors.Is(err, ErrIndexTaken) {
			index++
			continue
		}
		if err != nil {
			return 0, err
		}
		return index, nil
	}
}
