// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/state"
)

// countingAdapter counts every adapter call.
type countingAdapter struct {
	adapter.Adapter
	calls atomic.Int64
}

func (c *countingAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error) {
	c.calls.Add(1)
	return c.Adapter.Publish(ctx, namespace, owner, payload)
}

func (c *countingAdapter) PublishAt(ctx context.Context, namespace, owner string, index uint64, payload []byte) error {
	c.calls.Add(1)
	return c.Adapter.PublishAt(ctx, namespace, owner, index, payload)
}

func (c *countingAdapter) FetchAt(ctx context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	c.calls.Add(1)
	return c.Adapter.FetchAt(ctx, namespace, owner, index)
}

func resetAgent(t *testing.T, exchange adapter.Adapter, prefix string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	err := Run(context.Background(), RunConfig{StatePath: path, Reset: true, PIDPrefix: prefix, Adapter: exchange}, nil)
	if err != nil {
		t.Fatalf("Run(reset): %v", err)
	}
	return path
}

func TestRunReset(t *testing.T) {
	path := resetAgent(t, adapter.NewMemoryAdapter(), "alice")

	st, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !regexp.MustCompile(`^alice_[0-9a-f]{8}$`).MatchString(st.PID) {
		t.Errorf("pid = %q, want alice_<8 hex>", st.PID)
	}
	if st.WelcomeCounter != 0 || st.KeyPackageCounter != 0 || len(st.GroupIDs) != 0 {
		t.Errorf("fresh state has welcome %d, key package %d, groups %v",
			st.WelcomeCounter, st.KeyPackageCounter, st.GroupIDs)
	}

	// A second reset replaces the identity.
	if err := Run(context.Background(), RunConfig{StatePath: path, Reset: true, PIDPrefix: "alice", Adapter: adapter.NewMemoryAdapter()}, nil); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	again, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if again.PID == st.PID {
		t.Error("reset kept the old pid")
	}
}

func TestRunMissingState(t *testing.T) {
	exchange := &countingAdapter{Adapter: adapter.NewMemoryAdapter()}
	path := filepath.Join(t.TempDir(), "state.json")

	called := false
	err := Run(context.Background(), RunConfig{StatePath: path, Adapter: exchange}, func(context.Context, *Session) error {
		called = true
		return nil
	})
	if !errors.Is(err, state.ErrStateIO) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Run error = %v, want ErrStateIO and fs.ErrNotExist", err)
	}
	if called {
		t.Error("operation ran without state")
	}
	if exchange.calls.Load() != 0 {
		t.Errorf("%d adapter calls before the state failed to load", exchange.calls.Load())
	}
	if exists, _ := state.Exists(path); exists {
		t.Error("state file created without --reset")
	}
}

func TestRunLocked(t *testing.T) {
	exchange := adapter.NewMemoryAdapter()
	path := resetAgent(t, exchange, "alice")

	lock, err := state.Lock(path)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lock.Unlock()

	err = Run(context.Background(), RunConfig{StatePath: path, Adapter: exchange}, nil)
	if !errors.Is(err, state.ErrStateLocked) {
		t.Fatalf("Run error = %v, want ErrStateLocked", err)
	}
}

func TestRunPersistsAfterOperationError(t *testing.T) {
	exchange := adapter.NewMemoryAdapter()
	path := resetAgent(t, exchange, "alice")

	var gid string
	failure := errors.New("operation failed")
	err := Run(context.Background(), RunConfig{StatePath: path, Adapter: exchange}, func(ctx context.Context, session *Session) error {
		var err error
		gid, err = session.Controller.CreateGroup("g")
		if err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Run error = %v, want the operation's error", err)
	}

	st, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !st.HasGroup(gid) {
		t.Errorf("group %s created before the failure was not persisted", gid)
	}
}

func TestRunSyncsBeforeOperation(t *testing.T) {
	exchange := adapter.NewMemoryAdapter()
	alicePath := resetAgent(t, exchange, "alice")
	bobPath := resetAgent(t, exchange, "bob")

	var alicePID string
	err := Run(context.Background(), RunConfig{StatePath: alicePath, Adapter: exchange}, func(ctx context.Context, session *Session) error {
		alicePID = session.State.PID
		_, err := session.Controller.Advertise(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("alice advertise: %v", err)
	}

	err = Run(context.Background(), RunConfig{StatePath: bobPath, Adapter: exchange, Peers: []string{"carol_00000003"}}, func(ctx context.Context, session *Session) error {
		if len(session.Report.KeyPackages) != 1 || session.Report.KeyPackages[0] != alicePID {
			t.Errorf("report key packages = %v, want [%s]", session.Report.KeyPackages, alicePID)
		}
		peers := session.Controller.Peers()
		if len(peers) != 1 || peers[0] != alicePID {
			t.Errorf("Peers = %v, want [%s]", peers, alicePID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("bob sync: %v", err)
	}

	st, err := state.Load(bobPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, found := st.KeyPackages[alicePID]; !found {
		t.Error("synced key package not persisted")
	}
	if len(st.Peers) != 1 || st.Peers[0] != "carol_00000003" {
		t.Errorf("configured peers = %v", st.Peers)
	}
}

func TestRunCancelled(t *testing.T) {
	exchange := adapter.NewMemoryAdapter()
	path := resetAgent(t, exchange, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Run(ctx, RunConfig{StatePath: path, Adapter: exchange}, func(context.Context, *Session) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("operation ran after cancellation")
	}
	if _, err := state.Load(path); err != nil {
		t.Errorf("state unreadable after a cancelled run: %v", err)
	}
}
