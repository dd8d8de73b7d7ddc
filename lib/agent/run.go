// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/groupctl"
	"github.com/bureau-foundation/sgm/lib/metrics"
	"github.com/bureau-foundation/sgm/lib/state"
	"github.com/bureau-foundation/sgm/lib/syncer"
)

// RunConfig holds the configuration for one invocation.
type RunConfig struct {
	// StatePath is the state file. Its directory must exist.
	StatePath string

	// Reset discards any existing state and creates a new identity
	// with pid "<PIDPrefix>_<8 hex digits>".
	Reset     bool
	PIDPrefix string

	// Peers are pids whose key package streams are always polled.
	Peers []string

	Adapter adapter.Adapter

	// Recorder receives metrics events. May be nil.
	Recorder *metrics.Recorder

	// Logger is the structured logger. If nil, logs are discarded.
	Logger *slog.Logger
}

// Session is the agent as seen by an operation, after the pull.
type Session struct {
	State      *state.State
	Controller *groupctl.Controller

	// Report is the result of this invocation's pull.
	Report *syncer.Report
}

// Operation is the command-specific step of an invocation.
type Operation func(ctx context.Context, session *Session) error

// Run executes one invocation: lock, load or reset, pull, operation,
// save, unlock. A nil operation just syncs.
func Run(ctx context.Context, config RunConfig, operation Operation) (err error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.StatePath == "" {
		return fmt.Errorf("state path is required")
	}
	if config.Adapter == nil {
		return fmt.Errorf("adapter is required")
	}

	lock, err := state.Lock(config.StatePath)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			err = errors.Join(err, unlockErr)
		}
	}()

	st, err := loadOrReset(config, logger)
	if err != nil {
		return err
	}
	for _, pid := range config.Peers {
		st.AddPeer(pid)
	}
	config.Recorder.SetNodeID(st.PID)

	defer func() {
		if saveErr := st.Save(config.StatePath); saveErr != nil {
			err = errors.Join(err, saveErr)
			return
		}
		logger.Debug("state saved", "path", config.StatePath)
	}()

	puller, err := syncer.New(syncer.Config{Adapter: config.Adapter, Recorder: config.Recorder, Logger: logger})
	if err != nil {
		return err
	}
	report, err := puller.Pull(ctx, st)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	controller, err := groupctl.New(groupctl.Config{
		State:    st,
		Adapter:  config.Adapter,
		Recorder: config.Recorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if operation == nil {
		operation = func(context.Context, *Session) error { return nil }
	}
	return operation(ctx, &Session{State: st, Controller: controller, Report: report})
}

func loadOrReset(config RunConfig, logger *slog.Logger) (*state.State, error) {
	if config.Reset {
		st, err := state.New(config.PIDPrefix, nil)
		if err != nil {
			return nil, err
		}
		logger.Info("created new identity", "pid", st.PID)
		return st, nil
	}

	exists, err := state.Exists(config.StatePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: no state at %s (run with --reset to create one): %w", state.ErrStateIO, config.StatePath, fs.ErrNotExist)
	}
	st, err := state.Load(config.StatePath)
	if err != nil {
		return nil, err
	}
	logger.Debug("state loaded", "pid", st.PID, "path", config.StatePath)
	return st, nil
}
