// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by every
// sgm package that produces bytes another agent will read.
//
// sgm uses two serialization formats with a clear boundary:
//
//   - JSON for human-facing surfaces: the agent state file, CLI --json
//     output, the metrics event log, and the DHT proxy REST API.
//   - CBOR for everything exchanged between agents (key packages,
//     welcomes, commits) and for the group-key-agreement engine's
//     records inside the state file's protocol storage map.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical message always produces identical bytes, which matters
// because key package references and transcript hashes are computed
// over encoded bytes.
//
// Two decoders are provided:
//
//	err = codec.Unmarshal(data, &record)     // local records, lenient
//	err = codec.UnmarshalWire(data, &message) // peer input, strict
//
// [UnmarshalWire] rejects duplicate map keys and unknown fields. Input
// from another agent that does not match the expected shape exactly is
// malformed, not something to be partially interpreted.
//
// # Struct Tag Rules
//
// Types that only ever travel as CBOR use `cbor` tags with short keys.
// Types that are also printed as JSON use `json` tags; fxamacker/cbor
// reads `json` tags as a fallback. Never put both tags on one field.
package codec
