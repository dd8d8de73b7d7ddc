// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The agent is run-to-completion with no timers, so the only time
// operation it needs is Now: metrics events carry start and end
// timestamps and a duration. Production code injects Real(); tests
// inject Fake() and step it explicitly, which makes recorded durations
// exact.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c.SetStep(5 * time.Millisecond) // every Now advances by 5ms
package clock
