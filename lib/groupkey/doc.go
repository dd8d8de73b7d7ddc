// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package groupkey is the continuous group key agreement engine behind
// sgm groups.
//
// A group is a flat roster of leaves, each holding a member's identity
// (pid), ed25519 signature key, and age x25519 encryption key, plus an
// epoch secret shared by all current members. Every membership change
// is a signed commit from one member:
//
//   - The committer draws a fresh commit secret and seals it with age
//     to every remaining member's encryption key.
//   - The next epoch secret is HKDF-SHA256 over the commit secret,
//     salted with the current epoch secret.
//   - A BLAKE3 transcript hash chains every commit's content, and a
//     keyed BLAKE3 confirmation tag proves the committer derived the
//     same epoch secret receivers will.
//
// New members receive the group state in a welcome sealed to the init
// key of the key package they advertised. Removed members are excluded
// from the sealed commit secret and so cannot follow later epochs.
//
// Wire messages (key packages, commits, welcomes) and stored records
// are deterministic CBOR ([codec]). All persistent engine state lives
// in a caller-supplied [Storage]; the engine keeps no other state
// between calls.
//
// # Commit lifecycle
//
// [Group.AddMembers], [Group.RemoveMembers], and [Group.SelfUpdate]
// stage a pending commit and return a [CommitBundle] without changing
// the group's epoch. The caller publishes the commit and then calls
// [Group.MergePending], or [Group.ClearPending] if another member's
// commit won that epoch. Other members apply the commit with
// [Group.ProcessCommit]. A staged commit that was published but never
// merged locally is recognized and merged when it is later fetched
// back from the commit stream.
package groupkey
