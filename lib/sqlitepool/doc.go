// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for sgm with the pragmas a
// store-and-forward backend needs.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back. Connections are
// not safe for concurrent use.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the single writer, so two
//     agents sharing one database file on a host can fetch while a
//     third publishes.
//   - synchronous=FULL: a publish that returned success survives power
//     loss. The adapter contract promises durability on success, which
//     NORMAL does not give in WAL mode.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock held
//     by another agent process instead of failing immediately.
//
// The agent is single-threaded, so the default pool size is 1.
package sqlitepool
