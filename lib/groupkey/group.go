// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"slices"

	"github.com/bureau-foundation/sgm/lib/codec"
	"github.com/bureau-foundation/sgm/lib/sealed"
)

// Group is a loaded group. Changes are written to the provider's
// storage as they happen.
type Group struct {
	provider *Provider
	record   groupRecord
}

// Member is one occupied roster position.
type Member struct {
	Leaf     uint32
	Identity string
}

// Welcome is a welcome message addressed to one new member.
type Welcome struct {
	Identity string `cbor:"identity"`
	Data     []byte `cbor:"data"`
}

// CommitBundle is the output of a staged membership change.
type CommitBundle struct {
	// Epoch is the epoch the commit applies to; it is published at
	// this index of the group's commit stream.
	Epoch uint64

	Commit   []byte
	Welcomes []Welcome
}

// GroupID returns the group identifier.
func (g *Group) GroupID() string { return g.record.GroupID }

// Epoch returns the current (merged) epoch.
func (g *Group) Epoch() uint64 { return g.record.Epoch }

// OwnLeaf returns this member's leaf index.
func (g *Group) OwnLeaf() uint32 { return g.record.OwnLeaf }

// HasPending reports whether a staged commit awaits merge.
func (g *Group) HasPending() bool { return g.record.Pending != nil }

// Members returns the occupied leaves in leaf order.
func (g *Group) Members() []Member {
	var members []Member
	for leaf, m := range g.record.Members {
		if m.blank() {
			continue
		}
		members = append(members, Member{Leaf: uint32(leaf), Identity: m.Identity})
	}
	return members
}

// ExportSecret derives a secret of length bytes for label from the
// current epoch. Every member at the same epoch derives the same value.
func (g *Group) ExportSecret(label string, length int) ([]byte, error) {
	secret, err := exportSecret(g.record.EpochSecret, label, length)
	if err != nil {
		return nil, fmt.Errorf("exporting from %s: %w", g.record.GroupID, err)
	}
	return secret, nil
}

// AddMembers stages a commit adding one member per key package and
// returns it with one welcome per new member.
func (g *Group) AddMembers(keyPackages []*KeyPackage) (*CommitBundle, error) {
	if len(keyPackages) == 0 {
		return nil, fmt.Errorf("%w: no key packages to add", ErrInvalidProposal)
	}
	return g.stage(nil, keyPackages, nil)
}

// RemoveMembers stages a commit blanking the given leaves.
func (g *Group) RemoveMembers(leaves []uint32) (*CommitBundle, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("%w: no leaves to remove", ErrInvalidProposal)
	}
	if slices.Contains(leaves, g.record.OwnLeaf) {
		return nil, fmt.Errorf("%w: cannot remove own leaf %d", ErrInvalidProposal, g.record.OwnLeaf)
	}
	return g.stage(leaves, nil, nil)
}

// SelfUpdate stages a commit rotating this member's encryption key.
func (g *Group) SelfUpdate() (*CommitBundle, error) {
	encryptionKey, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return g.stage(nil, nil, &encryptionKey)
}

// MergePending applies the staged commit, advancing the epoch. The
// commit's welcomes move to the outbox until they are delivered.
func (g *Group) MergePending() error {
	pending := g.record.Pending
	if pending == nil {
		return fmt.Errorf("%s has no pending commit", g.record.GroupID)
	}
	outbox := append(slices.Clone(g.record.Outbox), pending.Welcomes...)
	g.record = pending.Next
	g.record.Pending = nil
	g.record.Outbox = pruneOutbox(outbox, g.record.Members)
	return g.store()
}

// Outbox returns the welcomes owed for merged commits, oldest first.
func (g *Group) Outbox() []Welcome {
	return slices.Clone(g.record.Outbox)
}

// WelcomeDelivered removes a published welcome from the outbox.
func (g *Group) WelcomeDelivered(welcome Welcome) error {
	index := slices.IndexFunc(g.record.Outbox, func(w Welcome) bool {
		return w.Identity == welcome.Identity && bytes.Equal(w.Data, welcome.Data)
	})
	if index < 0 {
		return nil
	}
	g.record.Outbox = slices.Delete(slices.Clone(g.record.Outbox), index, index+1)
	return g.store()
}

// pruneOutbox drops welcomes for identities no longer in the roster.
func pruneOutbox(outbox []Welcome, members []member) []Welcome {
	var kept []Welcome
	for _, welcome := range outbox {
		if slices.ContainsFunc(members, func(m member) bool { return m.Identity == welcome.Identity }) {
			kept = append(kept, welcome)
		}
	}
	return kept
}

// ClearPending discards the staged commit.
func (g *Group) ClearPending() error {
	if g.record.Pending == nil {
		return nil
	}
	g.record.Pending = nil
	return g.store()
}

func (g *Group) stage(removes []uint32, keyPackages []*KeyPackage, update *sealed.Keypair) (*CommitBundle, error) {
	current := g.record
	p := g.provider

	adds := make([]member, len(keyPackages))
	encodedAdds := make([][]byte, len(keyPackages))
	for i, keyPackage := range keyPackages {
		adds[i] = keyPackage.member()
		encodedAdds[i] = keyPackage.Encoded()
	}
	updateKey := ""
	if update != nil {
		updateKey = update.PublicKey
	}

	members, addedLeaves, err := applyProposals(current.Members, current.OwnLeaf, removes, updateKey, adds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", current.GroupID, err)
	}

	commitSecret := make([]byte, secretSize)
	if _, err := rand.Read(commitSecret); err != nil {
		return nil, fmt.Errorf("generating commit secret: %w", err)
	}
	var sealedSecret []byte
	if recipients := secretRecipients(members, current.OwnLeaf, addedLeaves); len(recipients) > 0 {
		sealedSecret, err = sealed.Encrypt(commitSecret, recipients...)
		if err != nil {
			return nil, fmt.Errorf("sealing commit secret: %w", err)
		}
	}

	commit := commitMessage{
		Type:         typeCommit,
		GroupID:      current.GroupID,
		Epoch:        current.Epoch,
		Sender:       current.OwnLeaf,
		Adds:         encodedAdds,
		Removes:      removes,
		UpdateKey:    updateKey,
		SealedSecret: sealedSecret,
	}
	if len(commit.Adds) == 0 {
		commit.Adds = nil
	}
	next, err := advance(current, commit, commitSecret, members)
	if err != nil {
		return nil, err
	}
	commit.ConfirmationTag, err = confirmationTag(next.EpochSecret, next.Transcript)
	if err != nil {
		return nil, err
	}
	signed, err := commit.signedContent()
	if err != nil {
		return nil, fmt.Errorf("encoding commit: %w", err)
	}
	commit.Signature = ed25519.Sign(p.signingKey, signed)
	commitBytes, err := codec.Marshal(commit)
	if err != nil {
		return nil, fmt.Errorf("encoding commit: %w", err)
	}
	if update != nil {
		next.EncryptionPrivateKey = update.PrivateKey
	}

	bundle := &CommitBundle{Epoch: current.Epoch, Commit: commitBytes}
	for i, keyPackage := range keyPackages {
		welcome, err := g.welcome(next, addedLeaves[i], keyPackage)
		if err != nil {
			return nil, err
		}
		bundle.Welcomes = append(bundle.Welcomes, Welcome{Identity: keyPackage.Identity, Data: welcome})
	}

	g.record.Pending = &pendingCommit{Commit: commitBytes, Next: next, Welcomes: bundle.Welcomes}
	if err := g.store(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (g *Group) welcome(next groupRecord, leaf uint32, keyPackage *KeyPackage) ([]byte, error) {
	info := groupInfo{
		GroupID:     next.GroupID,
		Epoch:       next.Epoch,
		EpochSecret: next.EpochSecret,
		Transcript:  next.Transcript,
		Members:     next.Members,
		Leaf:        leaf,
		Signer:      next.OwnLeaf,
	}
	content, err := info.signedContent()
	if err != nil {
		return nil, fmt.Errorf("encoding group info: %w", err)
	}
	info.Signature = ed25519.Sign(g.provider.signingKey, content)
	plaintext, err := codec.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encoding group info: %w", err)
	}

	sealedInfo, err := sealed.Encrypt(plaintext, keyPackage.InitKey)
	if err != nil {
		return nil, fmt.Errorf("sealing welcome for %s: %w", keyPackage.Identity, err)
	}
	return codec.Marshal(welcomeMessage{
		Type:          typeWelcome,
		KeyPackageRef: keyPackage.Ref(),
		Sealed:        sealedInfo,
	})
}

// ProcessCommit applies a commit fetched from the group's commit
// stream. It returns an error wrapping ErrWrongEpoch, ErrMalformed, or
// ErrRemoved without changing the group when the commit cannot be
// applied.
func (g *Group) ProcessCommit(data []byte) error {
	current := g.record

	var commit commitMessage
	if err := codec.UnmarshalWire(data, &commit); err != nil {
		return malformed("decoding commit: %w", err)
	}
	if commit.Type != typeCommit {
		return malformed("message type %q is not a commit", commit.Type)
	}
	if commit.GroupID != current.GroupID {
		return malformed("commit for group %q", commit.GroupID)
	}
	if commit.Epoch != current.Epoch {
		return fmt.Errorf("%w: commit for epoch %d, group %s at epoch %d",
			ErrWrongEpoch, commit.Epoch, current.GroupID, current.Epoch)
	}
	if int(commit.Sender) >= len(current.Members) || current.Members[commit.Sender].blank() {
		return malformed("commit sender leaf %d is not a member", commit.Sender)
	}
	signed, err := commit.signedContent()
	if err != nil {
		return malformed("re-encoding commit: %w", err)
	}
	if !ed25519.Verify(current.Members[commit.Sender].SignatureKey, signed, commit.Signature) {
		return malformed("commit signature invalid for sender leaf %d", commit.Sender)
	}

	if commit.Sender == current.OwnLeaf {
		if current.Pending != nil && bytes.Equal(current.Pending.Commit, data) {
			return g.MergePending()
		}
		return malformed("commit from own leaf %d does not match a staged commit", commit.Sender)
	}
	if slices.Contains(commit.Removes, current.OwnLeaf) {
		return fmt.Errorf("%w: %s by leaf %d at epoch %d", ErrRemoved, current.GroupID, commit.Sender, commit.Epoch)
	}

	adds := make([]member, len(commit.Adds))
	for i, encoded := range commit.Adds {
		keyPackage, err := ParseKeyPackage(encoded)
		if err != nil {
			return fmt.Errorf("commit add %d: %w", i, err)
		}
		adds[i] = keyPackage.member()
	}
	if commit.UpdateKey != "" {
		if err := sealed.ParsePublicKey(commit.UpdateKey); err != nil {
			return malformed("commit update key: %w", err)
		}
	}
	members, _, err := applyProposals(current.Members, commit.Sender, commit.Removes, commit.UpdateKey, adds)
	if err != nil {
		return malformed("%w", err)
	}

	if len(commit.SealedSecret) == 0 {
		return malformed("commit carries no secret for leaf %d", current.OwnLeaf)
	}
	commitSecret, err := sealed.Decrypt(commit.SealedSecret, current.EncryptionPrivateKey)
	if err != nil {
		return malformed("opening commit secret: %w", err)
	}
	if len(commitSecret) != secretSize {
		return malformed("commit secret is %d bytes", len(commitSecret))
	}

	next, err := advance(current, commit, commitSecret, members)
	if err != nil {
		return err
	}
	tag, err := confirmationTag(next.EpochSecret, next.Transcript)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(tag, commit.ConfirmationTag) != 1 {
		return malformed("commit confirmation tag mismatch")
	}

	// Receiving another member's commit for this epoch supersedes any
	// commit staged here, welcomes included.
	next.Outbox = pruneOutbox(current.Outbox, next.Members)
	g.record = next
	return g.store()
}

// advance computes the group state after commit.
func advance(current groupRecord, commit commitMessage, commitSecret []byte, members []member) (groupRecord, error) {
	content, err := commit.content()
	if err != nil {
		return groupRecord{}, fmt.Errorf("encoding commit content: %w", err)
	}
	transcript := nextTranscript(current.Transcript, content)
	epochSecret, err := nextEpochSecret(current.EpochSecret, commitSecret, current.GroupID, current.Epoch+1, transcript)
	if err != nil {
		return groupRecord{}, err
	}
	return groupRecord{
		GroupID:              current.GroupID,
		Epoch:                current.Epoch + 1,
		EpochSecret:          epochSecret,
		Transcript:           transcript,
		Members:              members,
		OwnLeaf:              current.OwnLeaf,
		EncryptionPrivateKey: current.EncryptionPrivateKey,
	}, nil
}

// applyProposals returns the roster after removes, the sender's key
// update, and adds, in that order. Added members take the leftmost
// blank leaf or are appended; trailing blank leaves are trimmed.
func applyProposals(current []member, sender uint32, removes []uint32, updateKey string, adds []member) ([]member, []uint32, error) {
	members := slices.Clone(current)

	seen := make(map[uint32]bool, len(removes))
	for _, leaf := range removes {
		switch {
		case int(leaf) >= len(members) || members[leaf].blank():
			return nil, nil, fmt.Errorf("%w: remove of leaf %d: not a member", ErrInvalidProposal, leaf)
		case leaf == sender:
			return nil, nil, fmt.Errorf("%w: remove of leaf %d: sender cannot remove itself", ErrInvalidProposal, leaf)
		case seen[leaf]:
			return nil, nil, fmt.Errorf("%w: remove of leaf %d: listed twice", ErrInvalidProposal, leaf)
		}
		seen[leaf] = true
		members[leaf] = member{}
	}

	if updateKey != "" {
		members[sender].EncryptionKey = updateKey
	}

	addedLeaves := make([]uint32, 0, len(adds))
	for _, added := range adds {
		for _, existing := range members {
			if existing.Identity == added.Identity {
				return nil, nil, fmt.Errorf("%w: add of %s: already a member", ErrInvalidProposal, added.Identity)
			}
		}
		leaf := slices.IndexFunc(members, member.blank)
		if leaf < 0 {
			leaf = len(members)
			members = append(members, added)
		} else {
			members[leaf] = added
		}
		addedLeaves = append(addedLeaves, uint32(leaf))
	}

	for len(members) > 0 && members[len(members)-1].blank() {
		members = members[:len(members)-1]
	}
	return members, addedLeaves, nil
}

// secretRecipients are the encryption keys of members who must learn
// the commit secret: everyone but the sender and the members being
// added, who learn the new epoch secret from their welcome.
func secretRecipients(members []member, sender uint32, addedLeaves []uint32) []string {
	var recipients []string
	for leaf, m := range members {
		if m.blank() || uint32(leaf) == sender || slices.Contains(addedLeaves, uint32(leaf)) {
			continue
		}
		recipients = append(recipients, m.EncryptionKey)
	}
	return recipients
}

func (g *Group) store() error {
	data, err := codec.Marshal(g.record)
	if err != nil {
		return fmt.Errorf("encoding group %s: %w", g.record.GroupID, err)
	}
	g.provider.storage.Set(groupKey(g.record.GroupID), data)
	return nil
}
