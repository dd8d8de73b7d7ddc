// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"github.com/bureau-foundation/sgm/lib/codec"
)

// member is one roster leaf. A blank leaf (removed member) has no
// identity.
type member struct {
	Identity      string `cbor:"identity,omitempty"`
	SignatureKey  []byte `cbor:"signature_key,omitempty"`
	EncryptionKey string `cbor:"encryption_key,omitempty"`
}

func (m member) blank() bool {
	return m.Identity == ""
}

// commitMessage advances a group from Epoch to Epoch+1.
type commitMessage struct {
	Type    string `cbor:"type"`
	GroupID string `cbor:"group_id"`
	Epoch   uint64 `cbor:"epoch"`
	Sender  uint32 `cbor:"sender"`

	// Adds are the encoded key packages of new members, in leaf
	// assignment order.
	Adds [][]byte `cbor:"adds,omitempty"`

	// Removes are leaf indexes to blank.
	Removes []uint32 `cbor:"removes,omitempty"`

	// UpdateKey is the sender's new encryption key, if rotated.
	UpdateKey string `cbor:"update_key,omitempty"`

	// SealedSecret is the commit secret sealed to every remaining
	// member other than the sender and the new members.
	SealedSecret []byte `cbor:"sealed_secret,omitempty"`

	ConfirmationTag []byte `cbor:"confirmation_tag,omitempty"`
	Signature       []byte `cbor:"signature,omitempty"`
}

// content is the encoding chained into the transcript: everything but
// the confirmation tag and signature.
func (c commitMessage) content() ([]byte, error) {
	c.ConfirmationTag = nil
	c.Signature = nil
	return codec.Marshal(c)
}

// signedContent is the encoding the sender signs.
func (c commitMessage) signedContent() ([]byte, error) {
	c.Signature = nil
	return codec.Marshal(c)
}

// welcomeMessage carries a groupInfo sealed to one new member's key
// package init key.
type welcomeMessage struct {
	Type          string `cbor:"type"`
	KeyPackageRef string `cbor:"key_package_ref"`
	Sealed        []byte `cbor:"sealed"`
}

// groupInfo is the group state a new member starts from.
type groupInfo struct {
	GroupID     string   `cbor:"group_id"`
	Epoch       uint64   `cbor:"epoch"`
	EpochSecret []byte   `cbor:"epoch_secret"`
	Transcript  []byte   `cbor:"transcript"`
	Members     []member `cbor:"members"`
	Leaf        uint32   `cbor:"leaf"`
	Signer      uint32   `cbor:"signer"`
	Signature   []byte   `cbor:"signature,omitempty"`
}

func (g groupInfo) signedContent() ([]byte, error) {
	g.Signature = nil
	return codec.Marshal(g)
}

// groupRecord is a group's stored state.
type groupRecord struct {
	GroupID              string         `cbor:"group_id"`
	Epoch                uint64         `cbor:"epoch"`
	EpochSecret          []byte         `cbor:"epoch_secret"`
	Transcript           []byte         `cbor:"transcript"`
	Members              []member       `cbor:"members"`
	OwnLeaf              uint32         `cbor:"own_leaf"`
	EncryptionPrivateKey string         `cbor:"encryption_private_key"`
	Pending              *pendingCommit `cbor:"pending,omitempty"`

	// Outbox holds welcomes of merged commits that have not been
	// published yet.
	Outbox []Welcome `cbor:"outbox,omitempty"`
}

// pendingCommit is a staged commit and the state it leads to.
type pendingCommit struct {
	Commit   []byte      `cbor:"commit"`
	Next     groupRecord `cbor:"next"`
	Welcomes []Welcome   `cbor:"welcomes,omitempty"`
}
