// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the group-key engine: it
// generates x25519 keypairs for key package init keys and leaf
// encryption keys, seals secrets to one or more recipients, and opens
// them with a private key.
//
// Keys travel as age's text encodings (AGE-SECRET-KEY-1... and
// age1...). Ciphertext is raw age binary; callers embed it in CBOR
// messages, which carry bytes natively.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair
//   - [Encrypt] -- seal to one or more age public keys
//   - [Decrypt] -- open with a private key
//   - [ParsePublicKey] / [PublicKeyOf] -- key validation and derivation
package sealed
