// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for sgm packages.
//
// [RequireReceive] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so that tests racing goroutines
// against an adapter never hang on a lost result.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation: group labels, PID prefixes, payload bodies.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no sgm-internal dependencies.
package testutil
