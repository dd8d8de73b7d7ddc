// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics records one JSON line per agent operation for offline
// analysis of group operations across a fleet of agents.
//
// A [Recorder] appends [Event] values to a file. The nil *Recorder is
// valid and discards everything, so components take a *Recorder
// unconditionally and callers that do not want metrics pass nil.
//
//	recorder, err := metrics.Open(path, clock.Real())
//	defer recorder.Close()
//
//	span := recorder.Start("group_add")
//	span.Event.GroupID = gid
//	// ... do the work ...
//	span.End(err)
//
// Events carry millisecond start/end timestamps and a duration, the
// agent's pid, and optional operation-specific fields (member counts,
// payload sizes, stream indexes). Optional fields are omitted from the
// line when unset.
package metrics
