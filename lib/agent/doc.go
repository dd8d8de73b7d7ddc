// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent runs one agent invocation: the cycle every sgm command
// goes through around its own operation.
//
// [Run] takes an exclusive lock on the state file, loads the state (or
// creates a fresh identity when a reset is requested), pulls
// everything new from the adapter with [syncer.Syncer], hands a
// [Session] to the caller's operation, and writes the state back. The
// state is saved whenever it was loaded or created, whether or not the
// pull or the operation failed, so progress made before a failure is
// kept. A state file that cannot be read or locked fails the
// invocation before any adapter call is made.
package agent
