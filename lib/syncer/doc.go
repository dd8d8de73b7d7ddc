// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer pulls unseen key packages, welcomes, and commits from
// an [adapter.Adapter] into an agent's [state.State].
//
// Every stream is an append-only sequence of payloads addressed by
// index, and the state records the next index to read from each one:
// the key package directory stream and each peer's own key package
// stream (state.KeyPackageCounter, state.KeyPackageIndexes), the
// agent's welcome stream (state.WelcomeCounter), and each group's
// commit stream (the group's epoch, held by the engine). A pull reads
// each stream forward from its counter until the adapter reports that
// nothing is stored at the next index.
//
// Failures are isolated. A payload that cannot be parsed or applied is
// recorded as a [Warning]: key packages and welcomes are consumed anyway
// (their counter advances), while a commit that fails halts that group
// at its current epoch so a later epoch is never applied out of order.
// An [adapter.ErrUnavailable] failure stops only the stream it occurred
// on, without consuming the index it failed on, so the next pull
// resumes from the same place. Pull returns an error only when its
// context is cancelled.
package syncer
