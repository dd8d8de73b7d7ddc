// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter is the store-and-forward transport agents use to
// exchange key packages, welcomes, and commits.
//
// Every payload lives at an [Address]: a namespace ("keypackage",
// "welcome", "commit"), an owner key (a pid or a group id), and a
// zero-based index. Streams are append-only: a value, once stored at an
// index, is never replaced. Readers walk a stream by fetching
// successive indexes until [Adapter.FetchAt] reports not-found.
//
// The [Adapter] interface has four backends chosen at construction by
// [Open]:
//
//   - [FileAdapter]: one file per address in a shared directory.
//   - [DHTAdapter]: an OpenDHT REST proxy (GET/POST /key/<hash>).
//   - [SQLiteAdapter]: one row per address in a SQLite database.
//   - [MemoryAdapter]: in-process, with fault injection, for tests.
//
// Two decorators wrap any backend: [CompressingAdapter] frames
// payloads with a small header naming the compression algorithm, and
// [InstrumentedAdapter] records a metrics event per call.
//
// # Errors
//
// Not-found is not an error: FetchAt returns found=false. Transport and
// storage failures wrap [ErrUnavailable]; the caller may retry by
// running again later. [ErrIndexTaken] means PublishAt lost the index
// to an earlier publisher. [ErrCorruptPayload] means bytes were
// retrieved but cannot be decoded by a decorator; the index is
// occupied, so readers treat it as a malformed message rather than a
// transport failure.
//
// # Concurrent publishers
//
// The file and SQLite backends claim an index atomically (hard link,
// INSERT OR IGNORE). The DHT proxy has no compare-and-swap, so
// PublishAt there is check-then-put: two agents racing for one index
// can both believe they won. Commits are the only payload published at
// a caller-chosen index, and a lost race there surfaces to the loser's
// peers as a commit that fails to verify against their epoch.
package adapter
