// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"testing"
)

func TestBridgeCopiesValues(t *testing.T) {
	state, err := New("alice", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bridge := state.Bridge()

	value := []byte("epoch secret")
	bridge.Set([]byte("k"), value)
	value[0] = 'X'

	got, found := bridge.Get([]byte("k"))
	if !found || string(got) != "epoch secret" {
		t.Fatalf("Set aliased caller slice: %q", got)
	}
	got[0] = 'Y'
	again, _ := bridge.Get([]byte("k"))
	if string(again) != "epoch secret" {
		t.Fatalf("Get aliased stored slice: %q", again)
	}

	if _, found := bridge.Get([]byte("absent")); found {
		t.Fatal("Get found absent key")
	}
}

func TestBridgeDeleteAndKeys(t *testing.T) {
	state, err := New("alice", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bridge := state.Bridge()

	bridge.Set([]byte("group/b"), []byte{2})
	bridge.Set([]byte("group/a"), []byte{1})
	bridge.Set([]byte("init_key/x"), []byte{3})

	keys := bridge.Keys([]byte("group/"))
	if len(keys) != 2 || !bytes.Equal(keys[0], []byte("group/a")) || !bytes.Equal(keys[1], []byte("group/b")) {
		t.Fatalf("Keys(group/) = %q", keys)
	}
	if all := bridge.Keys(nil); len(all) != 3 {
		t.Fatalf("Keys(nil) returned %d keys, want 3", len(all))
	}

	bridge.Delete([]byte("group/a"))
	bridge.Delete([]byte("never-set"))
	if _, found := bridge.Get([]byte("group/a")); found {
		t.Fatal("deleted key still present")
	}
	if bridge.Len() != 2 {
		t.Fatalf("Len = %d, want 2", bridge.Len())
	}

	// The bridge writes through to the state's map.
	if _, found := state.ProtocolStorage["init_key/x"]; !found {
		t.Fatal("bridge write not visible in ProtocolStorage")
	}
}
