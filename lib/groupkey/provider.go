// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/bureau-foundation/sgm/lib/codec"
	"github.com/bureau-foundation/sgm/lib/sealed"
)

// Storage is the byte-keyed store the engine persists into. Values
// must round-trip byte-exactly.
type Storage interface {
	Get(key []byte) ([]byte, bool)
	Set(key, value []byte)
	Delete(key []byte)
	Keys(prefix []byte) [][]byte
}

// Storage key prefixes.
const (
	prefixInitKey = "init_key/"
	prefixGroup   = "group/"
)

// initKeyRecord is the private half of an advertised key package.
type initKeyRecord struct {
	PrivateKey string `cbor:"private_key"`
	PublicKey  string `cbor:"public_key"`
}

// Provider binds the engine to one member's identity and storage.
type Provider struct {
	storage    Storage
	identity   string
	signingKey ed25519.PrivateKey
}

// NewProvider returns a provider acting as identity, signing with
// signingKey and persisting into storage.
func NewProvider(storage Storage, identity string, signingKey ed25519.PrivateKey) *Provider {
	return &Provider{storage: storage, identity: identity, signingKey: signingKey}
}

// Identity returns the member identity (pid) the provider acts as.
func (p *Provider) Identity() string {
	return p.identity
}

func (p *Provider) signatureKey() ed25519.PublicKey {
	return p.signingKey.Public().(ed25519.PublicKey)
}

// NewKeyPackage creates and signs a fresh key package, storing its
// init private key so welcomes sealed to it can be opened later.
func (p *Provider) NewKeyPackage() (*KeyPackage, error) {
	initKey, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	keyPackage := KeyPackage{
		Type:            typeKeyPackage,
		ProtocolVersion: ProtocolVersion,
		Ciphersuite:     Ciphersuite,
		Identity:        p.identity,
		SignatureKey:    p.signatureKey(),
		InitKey:         initKey.PublicKey,
	}
	content, err := keyPackage.signedContent()
	if err != nil {
		return nil, fmt.Errorf("encoding key package: %w", err)
	}
	keyPackage.Signature = ed25519.Sign(p.signingKey, content)

	encoded, err := codec.Marshal(keyPackage)
	if err != nil {
		return nil, fmt.Errorf("encoding key package: %w", err)
	}
	keyPackage.encoded = encoded

	record, err := codec.Marshal(initKeyRecord{PrivateKey: initKey.PrivateKey, PublicKey: initKey.PublicKey})
	if err != nil {
		return nil, fmt.Errorf("encoding init key: %w", err)
	}
	p.storage.Set([]byte(prefixInitKey+keyPackage.Ref()), record)
	return &keyPackage, nil
}

// CreateGroup creates a single-member group at epoch 0 with this
// provider as leaf 0.
func (p *Provider) CreateGroup(groupID string) (*Group, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group id is required")
	}
	if _, exists := p.storage.Get(groupKey(groupID)); exists {
		return nil, fmt.Errorf("%s: %w", groupID, ErrGroupExists)
	}

	encryptionKey, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	epochSecret := make([]byte, secretSize)
	if _, err := rand.Read(epochSecret); err != nil {
		return nil, fmt.Errorf("generating epoch secret: %w", err)
	}

	group := &Group{
		provider: p,
		record: groupRecord{
			GroupID:     groupID,
			Epoch:       0,
			EpochSecret: epochSecret,
			Transcript:  initialTranscript(groupID),
			Members: []member{{
				Identity:      p.identity,
				SignatureKey:  p.signatureKey(),
				EncryptionKey: encryptionKey.PublicKey,
			}},
			OwnLeaf:              0,
			EncryptionPrivateKey: encryptionKey.PrivateKey,
		},
	}
	if err := group.store(); err != nil {
		return nil, err
	}
	return group, nil
}

// LoadGroup reads a group's stored state. Missing or undecodable
// state wraps ErrStorageCorrupt (and ErrGroupNotFound when missing).
func (p *Provider) LoadGroup(groupID string) (*Group, error) {
	data, found := p.storage.Get(groupKey(groupID))
	if !found {
		return nil, fmt.Errorf("%w: %w: %s", ErrStorageCorrupt, ErrGroupNotFound, groupID)
	}

	var record groupRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrStorageCorrupt, groupID, err)
	}
	if err := p.checkRecord(groupID, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageCorrupt, groupID, err)
	}
	return &Group{provider: p, record: record}, nil
}

func (p *Provider) checkRecord(groupID string, record *groupRecord) error {
	if record.GroupID != groupID {
		return fmt.Errorf("record is for group %q", record.GroupID)
	}
	if len(record.EpochSecret) != secretSize {
		return fmt.Errorf("epoch secret is %d bytes", len(record.EpochSecret))
	}
	if int(record.OwnLeaf) >= len(record.Members) {
		return fmt.Errorf("own leaf %d outside roster of %d", record.OwnLeaf, len(record.Members))
	}
	own := record.Members[record.OwnLeaf]
	if own.Identity != p.identity || !bytes.Equal(own.SignatureKey, p.signatureKey()) {
		return fmt.Errorf("own leaf %d belongs to %q", record.OwnLeaf, own.Identity)
	}
	return nil
}

// GroupIDs lists every group with stored state, in byte order.
func (p *Provider) GroupIDs() []string {
	keys := p.storage.Keys([]byte(prefixGroup))
	groupIDs := make([]string, len(keys))
	for i, key := range keys {
		groupIDs[i] = string(key[len(prefixGroup):])
	}
	return groupIDs
}

// JoinFromWelcome opens a welcome sealed to one of this provider's key
// packages and stores the group state it carries. Every failure to
// open or verify the welcome wraps ErrMalformed.
func (p *Provider) JoinFromWelcome(data []byte) (*Group, error) {
	var welcome welcomeMessage
	if err := codec.UnmarshalWire(data, &welcome); err != nil {
		return nil, malformed("decoding welcome: %w", err)
	}
	if welcome.Type != typeWelcome {
		return nil, malformed("message type %q is not a welcome", welcome.Type)
	}

	recordBytes, found := p.storage.Get([]byte(prefixInitKey + welcome.KeyPackageRef))
	if !found {
		return nil, malformed("welcome for unknown key package %s", welcome.KeyPackageRef)
	}
	var initKey initKeyRecord
	if err := codec.Unmarshal(recordBytes, &initKey); err != nil {
		return nil, fmt.Errorf("%w: decoding init key %s: %w", ErrStorageCorrupt, welcome.KeyPackageRef, err)
	}

	plaintext, err := sealed.Decrypt(welcome.Sealed, initKey.PrivateKey)
	if err != nil {
		return nil, malformed("opening welcome: %w", err)
	}
	var info groupInfo
	if err := codec.UnmarshalWire(plaintext, &info); err != nil {
		return nil, malformed("decoding group info: %w", err)
	}
	if err := p.verifyGroupInfo(&info, initKey.PublicKey); err != nil {
		return nil, err
	}

	if existing, err := p.LoadGroup(info.GroupID); err == nil && existing.record.Epoch >= info.Epoch {
		return nil, malformed("welcome to %s at epoch %d, already at epoch %d",
			info.GroupID, info.Epoch, existing.record.Epoch)
	}

	group := &Group{
		provider: p,
		record: groupRecord{
			GroupID:              info.GroupID,
			Epoch:                info.Epoch,
			EpochSecret:          info.EpochSecret,
			Transcript:           info.Transcript,
			Members:              info.Members,
			OwnLeaf:              info.Leaf,
			EncryptionPrivateKey: initKey.PrivateKey,
		},
	}
	if err := group.store(); err != nil {
		return nil, err
	}
	return group, nil
}

func (p *Provider) verifyGroupInfo(info *groupInfo, initPublicKey string) error {
	if info.GroupID == "" {
		return malformed("group info has no group id")
	}
	if len(info.EpochSecret) != secretSize || len(info.Transcript) != secretSize {
		return malformed("group info secrets have wrong size")
	}
	if int(info.Signer) >= len(info.Members) || info.Members[info.Signer].blank() {
		return malformed("group info signer leaf %d is not a member", info.Signer)
	}
	if int(info.Leaf) >= len(info.Members) {
		return malformed("group info leaf %d outside roster of %d", info.Leaf, len(info.Members))
	}
	for leaf, m := range info.Members {
		if m.blank() {
			continue
		}
		if len(m.SignatureKey) != ed25519.PublicKeySize {
			return malformed("leaf %d signature key is %d bytes", leaf, len(m.SignatureKey))
		}
		if err := sealed.ParsePublicKey(m.EncryptionKey); err != nil {
			return malformed("leaf %d encryption key: %w", leaf, err)
		}
	}

	own := info.Members[info.Leaf]
	if own.Identity != p.identity || !bytes.Equal(own.SignatureKey, p.signatureKey()) || own.EncryptionKey != initPublicKey {
		return malformed("welcome leaf %d is not this member", info.Leaf)
	}

	content, err := info.signedContent()
	if err != nil {
		return malformed("re-encoding group info: %w", err)
	}
	if !ed25519.Verify(info.Members[info.Signer].SignatureKey, content, info.Signature) {
		return malformed("group info signature invalid")
	}
	return nil
}

func groupKey(groupID string) []byte {
	return []byte(prefixGroup + groupID)
}
