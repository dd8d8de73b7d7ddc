// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the agent's persisted record: its identity
// (pid and ed25519 signing key), the stream counters that make sync
// resumable, the key packages it has collected from peers, the groups
// it belongs to, and the group-key engine's byte-keyed storage.
//
// A [State] is created fresh by [New] on explicit reset, or read by
// [Load]. It is written back wholly by [Save] at the end of every run
// that loaded it, using write-to-temporary, fsync, rename so a crash
// leaves the previous file intact. [Lock] takes an advisory lock on a
// sibling ".lock" file so two processes cannot run against one state
// file at once.
//
// [Bridge] exposes the protocol storage map as the engine's storage
// contract. Bytes round-trip exactly through Save and Load: keys are
// hex-encoded and values base64-encoded in the file.
package state
