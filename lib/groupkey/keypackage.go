// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/bureau-foundation/sgm/lib/codec"
	"github.com/bureau-foundation/sgm/lib/sealed"
)

// Protocol constants carried in every key package.
const (
	ProtocolVersion uint16 = 1
	Ciphersuite     uint16 = 1
)

// Message type tags.
const (
	typeKeyPackage = "key_package"
	typeCommit     = "commit"
	typeWelcome    = "welcome"
)

// KeyPackage is a member's published credential bundle: its identity,
// signature key, and an age init key that welcomes are sealed to. Key
// packages are reusable; one key package can admit its owner to any
// number of groups.
type KeyPackage struct {
	Type            string `cbor:"type"`
	ProtocolVersion uint16 `cbor:"protocol_version"`
	Ciphersuite     uint16 `cbor:"ciphersuite"`
	Identity        string `cbor:"identity"`
	SignatureKey    []byte `cbor:"signature_key"`
	InitKey         string `cbor:"init_key"`
	Signature       []byte `cbor:"signature,omitempty"`

	encoded []byte
}

// ParseKeyPackage decodes and verifies an encoded key package. Every
// failure wraps ErrMalformed.
func ParseKeyPackage(data []byte) (*KeyPackage, error) {
	var keyPackage KeyPackage
	if err := codec.UnmarshalWire(data, &keyPackage); err != nil {
		return nil, malformed("decoding key package: %w", err)
	}
	if keyPackage.Type != typeKeyPackage {
		return nil, malformed("message type %q is not a key package", keyPackage.Type)
	}
	if keyPackage.ProtocolVersion != ProtocolVersion || keyPackage.Ciphersuite != Ciphersuite {
		return nil, malformed("key package for protocol %d / ciphersuite %d", keyPackage.ProtocolVersion, keyPackage.Ciphersuite)
	}
	if keyPackage.Identity == "" {
		return nil, malformed("key package has no identity")
	}
	if len(keyPackage.SignatureKey) != ed25519.PublicKeySize {
		return nil, malformed("key package signature key is %d bytes", len(keyPackage.SignatureKey))
	}
	if err := sealed.ParsePublicKey(keyPackage.InitKey); err != nil {
		return nil, malformed("key package init key: %w", err)
	}

	content, err := keyPackage.signedContent()
	if err != nil {
		return nil, malformed("re-encoding key package: %w", err)
	}
	if !ed25519.Verify(keyPackage.SignatureKey, content, keyPackage.Signature) {
		return nil, malformed("key package signature invalid for %s", keyPackage.Identity)
	}

	keyPackage.encoded = append([]byte(nil), data...)
	return &keyPackage, nil
}

func (k *KeyPackage) signedContent() ([]byte, error) {
	unsigned := *k
	unsigned.Signature = nil
	return codec.Marshal(unsigned)
}

// Encoded returns the bytes the key package was parsed from.
func (k *KeyPackage) Encoded() []byte {
	return k.encoded
}

// Ref identifies the key package in welcomes: the BLAKE3 hash of its
// encoding, hex-encoded.
func (k *KeyPackage) Ref() string {
	return keyPackageRef(k.encoded)
}

func keyPackageRef(encoded []byte) string {
	return hex.EncodeToString(deriveHash(contextKeyPackageRef, encoded))
}

// member converts the key package into a roster entry. The init key
// serves as the new member's first encryption key.
func (k *KeyPackage) member() member {
	return member{
		Identity:      k.Identity,
		SignatureKey:  k.SignatureKey,
		EncryptionKey: k.InitKey,
	}
}

func (k *KeyPackage) String() string {
	return fmt.Sprintf("key package %s for %s", k.Ref()[:12], k.Identity)
}
