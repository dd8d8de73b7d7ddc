// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/bureau-foundation/sgm/lib/clock"
)

// Result values for [Event].Result.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Event is one operation record. Pointer fields are optional and
// omitted when nil.
type Event struct {
	StartMillis      int64   `json:"ts_start_ms"`
	EndMillis        int64   `json:"ts_end_ms"`
	DurationMillis   int64   `json:"duration_ms"`
	NodeID           string  `json:"node_id,omitempty"`
	GroupID          string  `json:"gid,omitempty"`
	Operation        string  `json:"op"`
	Result           string  `json:"result"`
	Error            string  `json:"error,omitempty"`
	MembersBefore    *int    `json:"members_before,omitempty"`
	MembersAfter     *int    `json:"members_after,omitempty"`
	CommitBytes      *int    `json:"commit_bytes,omitempty"`
	WelcomeBytes     *int    `json:"welcome_bytes,omitempty"`
	Epoch            *uint64 `json:"epoch,omitempty"`
	StreamIndex      *uint64 `json:"stream_index,omitempty"`
	Address          string  `json:"address,omitempty"`
	PayloadBytes     *int    `json:"payload_bytes,omitempty"`
	Found            *bool   `json:"found,omitempty"`
	WelcomeProcessed *bool   `json:"welcome_processed,omitempty"`
	CommitMerged     *bool   `json:"commit_merged,omitempty"`
}

// Recorder appends events to a JSONL file. Safe for concurrent use.
// A nil *Recorder discards all events.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	clock  clock.Clock
	nodeID string
}

// Open opens (creating if needed) the metrics file at path in append
// mode. The caller must call Close.
func Open(path string, c clock.Clock) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics file: %w", err)
	}
	return &Recorder{file: file, clock: c}, nil
}

// SetNodeID stamps subsequent events with the agent's pid. The pid is
// not known until the state file is loaded, which happens after the
// recorder is opened.
func (r *Recorder) SetNodeID(nodeID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeID = nodeID
}

// Start begins timing an operation. The returned span is never nil,
// even for a nil Recorder, so callers can set fields unconditionally.
func (r *Recorder) Start(operation string) *Span {
	span := &Span{recorder: r, Event: Event{Operation: operation, Result: ResultOK}}
	if r != nil {
		span.Event.StartMillis = r.clock.Now().UnixMilli()
	}
	return span
}

// Record writes one event as a single JSON line. Write failures are
// dropped: metrics must never fail an agent operation.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.NodeID == "" {
		event.NodeID = r.nodeID
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	line = append(line, '\n')
	r.file.Write(line)
}

// Close closes the underlying file. Safe on a nil Recorder.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Span is an in-progress operation. Set fields on Event, then call End
// exactly once.
type Span struct {
	recorder *Recorder
	Event    Event
}

// End stamps the end time and result and records the event.
func (s *Span) End(err error) {
	if s.recorder == nil {
		return
	}
	s.Event.EndMillis = s.recorder.clock.Now().UnixMilli()
	s.Event.DurationMillis = max(s.Event.EndMillis-s.Event.StartMillis, 0)
	if err != nil {
		s.Event.Result = ResultError
		s.Event.Error = err.Error()
	}
	s.recorder.Record(s.Event)
}

// Int returns a pointer to v, for optional Event fields.
func Int(v int) *int { return &v }

// Uint64 returns a pointer to v, for optional Event fields.
func Uint64(v uint64) *uint64 { return &v }

// Bool returns a pointer to v, for optional Event fields.
func Bool(v bool) *bool { return &v }
