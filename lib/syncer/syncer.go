// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/groupkey"
	"github.com/bureau-foundation/sgm/lib/metrics"
	"github.com/bureau-foundation/sgm/lib/state"
)

// Metrics operation names.
const (
	OperationWelcome = "welcome_process"
	OperationCommit  = "commit_process"
)

// Warning is one non-fatal sync failure.
type Warning struct {
	// Stream is the namespace the failure occurred on.
	Stream string

	// Owner is the stream owner: a pid, the directory owner, or a
	// group id.
	Owner string

	// Index is the stream index read. Welcome publish failures have
	// no index and report zero.
	Index uint64
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s/%s/%d: %v", w.Stream, w.Owner, w.Index, w.Err)
}

// Report summarizes one pull.
type Report struct {
	// Joined lists group ids joined from welcomes, in stream order.
	Joined []string

	Warnings []Warning

	// KeyPackages lists the pids whose stored key package was added or
	// replaced, sorted.
	KeyPackages []string

	// Commits counts the commits applied per group id.
	Commits map[string]int

	// Welcomes lists owed welcomes published during the pull.
	Welcomes []Delivery
}

// Delivery reports a welcome published for a merged commit.
type Delivery struct {
	GroupID string `json:"gid"`
	PID     string `json:"pid"`
	Index   uint64 `json:"index"`
}

// Config holds Syncer dependencies.
type Config struct {
	Adapter adapter.Adapter

	// Recorder receives welcome and commit processing events. May be
	// nil.
	Recorder *metrics.Recorder

	// Logger receives progress and warnings. If nil, discarded.
	Logger *slog.Logger
}

// Syncer runs pulls against one adapter.
type Syncer struct {
	adapter  adapter.Adapter
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New creates a Syncer.
func New(config Config) (*Syncer, error) {
	if config.Adapter == nil {
		return nil, fmt.Errorf("syncer: adapter is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{adapter: config.Adapter, recorder: config.Recorder, logger: logger}, nil
}

// pull is the state of one Pull call.
type pull struct {
	*Syncer
	state    *state.State
	provider *groupkey.Provider
	report   *Report
	updated  map[string]bool
}

// Pull reads key packages, then welcomes, then commits, mutating st in
// place. After a group's commits it publishes the group's owed
// welcomes. The returned error is non-nil only if ctx is cancelled; the
// report is valid either way and st keeps all progress made.
func (s *Syncer) Pull(ctx context.Context, st *state.State) (*Report, error) {
	p := &pull{
		Syncer:   s,
		state:    st,
		provider: groupkey.NewProvider(st.Bridge(), st.PID, st.SigningKey),
		report:   &Report{Commits: make(map[string]int)},
		updated:  make(map[string]bool),
	}

	stages := []func(context.Context) error{p.keyPackages, p.welcomes, p.commits}
	for _, stage := range stages {
		if err := stage(ctx); err != nil {
			return p.report, err
		}
	}

	for pid := range p.updated {
		p.report.KeyPackages = append(p.report.KeyPackages, pid)
	}
	slices.Sort(p.report.KeyPackages)
	s.logger.Info("sync complete",
		"key_packages", len(p.report.KeyPackages),
		"joined", len(p.report.Joined),
		"warnings", len(p.report.Warnings),
	)
	return p.report, nil
}

func (p *pull) warn(stream, owner string, index uint64, err error) {
	p.report.Warnings = append(p.report.Warnings, Warning{Stream: stream, Owner: owner, Index: index, Err: err})
	p.logger.Warn("sync warning", "stream", stream, "owner", owner, "index", index, "error", err)
}

// fetched is one payload read from a stream. err is set instead of
// payload when the stored value could not be decoded.
type fetched struct {
	payload []byte
	err     error
}

// fetch reads one index. stop is true when the stream should not be
// read further this run: nothing is stored there, the adapter is
// unavailable (recorded as a warning), or ctx is done (err set).
func (p *pull) fetch(ctx context.Context, stream, owner string, index uint64) (item fetched, stop bool, err error) {
	if err := ctx.Err(); err != nil {
		return fetched{}, true, err
	}
	payload, found, fetchErr := p.adapter.FetchAt(ctx, stream, owner, index)
	if fetchErr != nil {
		if err := ctx.Err(); err != nil {
			return fetched{}, true, err
		}
		if errors.Is(fetchErr, adapter.ErrCorruptPayload) {
			// An undecodable stored value is a malformed message, not
			// an outage.
			return fetched{err: fmt.Errorf("%w: %w", groupkey.ErrMalformed, fetchErr)}, false, nil
		}
		p.warn(stream, owner, index, fetchErr)
		return fetched{}, true, nil
	}
	if !found {
		return fetched{}, true, nil
	}
	return fetched{payload: payload}, false, nil
}

// keyPackages drains the directory stream, then each peer's own
// stream. Peers discovered in the directory are read in the same pull.
func (p *pull) keyPackages(ctx context.Context) error {
	for {
		index := p.state.KeyPackageCounter
		item, stop, err := p.fetch(ctx, adapter.NamespaceKeyPackage, adapter.DirectoryOwner, index)
		if err != nil {
			return err
		}
		if stop {
			break
		}
		p.storeKeyPackage(adapter.DirectoryOwner, index, "", item)
		p.state.KeyPackageCounter = index + 1
	}

	for _, pid := range p.state.PeersOfInterest() {
		for {
			index := p.state.KeyPackageIndexes[pid]
			item, stop, err := p.fetch(ctx, adapter.NamespaceKeyPackage, pid, index)
			if err != nil {
				return err
			}
			if stop {
				break
			}
			p.storeKeyPackage(pid, index, pid, item)
			p.state.KeyPackageIndexes[pid] = index + 1
		}
	}
	return nil
}

// storeKeyPackage verifies a fetched key package and stores it for its
// owner. When wantOwner is set, the key package must belong to that
// pid. Invalid payloads become warnings.
func (p *pull) storeKeyPackage(streamOwner string, index uint64, wantOwner string, item fetched) {
	if item.err != nil {
		p.warn(adapter.NamespaceKeyPackage, streamOwner, index, item.err)
		return
	}
	payload := item.payload
	keyPackage, err := groupkey.ParseKeyPackage(payload)
	if err != nil {
		p.warn(adapter.NamespaceKeyPackage, streamOwner, index, err)
		return
	}
	if wantOwner != "" && keyPackage.Identity != wantOwner {
		p.warn(adapter.NamespaceKeyPackage, streamOwner, index,
			fmt.Errorf("%w: key package for %s in stream of %s", groupkey.ErrMalformed, keyPackage.Identity, wantOwner))
		return
	}
	if keyPackage.Identity == p.state.PID {
		return
	}
	if stored, exists := p.state.KeyPackages[keyPackage.Identity]; exists && bytes.Equal(stored, payload) {
		return
	}
	p.state.SetKeyPackage(keyPackage.Identity, payload)
	p.updated[keyPackage.Identity] = true
	p.logger.Debug("stored key package", "pid", keyPackage.Identity, "stream", streamOwner, "index", index)
}

// welcomes drains the agent's welcome stream. Every fetched welcome is
// consumed whether or not it can be joined.
func (p *pull) welcomes(ctx context.Context) error {
	for {
		index := p.state.WelcomeCounter
		item, stop, err := p.fetch(ctx, adapter.NamespaceWelcome, p.state.PID, index)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		p.state.WelcomeCounter = index + 1

		span := p.recorder.Start(OperationWelcome)
		span.Event.StreamIndex = metrics.Uint64(index)
		group, err := p.join(item)
		span.Event.WelcomeProcessed = metrics.Bool(err == nil)
		if err != nil {
			span.End(err)
			p.warn(adapter.NamespaceWelcome, p.state.PID, index, err)
			continue
		}
		span.Event.GroupID = group.GroupID()
		span.Event.Epoch = metrics.Uint64(group.Epoch())
		span.Event.MembersAfter = metrics.Int(len(group.Members()))
		span.End(nil)

		p.state.AddGroup(group.GroupID())
		p.report.Joined = append(p.report.Joined, group.GroupID())
		p.logger.Info("joined group", "gid", group.GroupID(), "epoch", group.Epoch())
	}
}

func (p *pull) join(item fetched) (*groupkey.Group, error) {
	if item.err != nil {
		return nil, item.err
	}
	return p.provider.JoinFromWelcome(item.payload)
}

// commits applies each group's commit stream from its current epoch.
func (p *pull) commits(ctx context.Context) error {
	for _, gid := range slices.Clone(p.state.GroupIDs) {
		group, err := p.provider.LoadGroup(gid)
		if err != nil {
			p.warn(adapter.NamespaceCommit, gid, 0, err)
			continue
		}
		if err := p.groupCommits(ctx, group); err != nil {
			return err
		}
		if err := p.deliverWelcomes(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

// deliverWelcomes publishes the welcomes of merged commits that have
// not gone out yet. A failure stops delivery for the group until the
// next run.
func (p *pull) deliverWelcomes(ctx context.Context, group *groupkey.Group) error {
	for _, welcome := range group.Outbox() {
		index, err := p.adapter.Publish(ctx, adapter.NamespaceWelcome, welcome.Identity, welcome.Data)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.warn(adapter.NamespaceWelcome, welcome.Identity, 0, fmt.Errorf("publishing welcome to %s: %w", group.GroupID(), err))
			return nil
		}
		if err := group.WelcomeDelivered(welcome); err != nil {
			p.warn(adapter.NamespaceWelcome, welcome.Identity, index, err)
			return nil
		}
		p.report.Welcomes = append(p.report.Welcomes, Delivery{GroupID: group.GroupID(), PID: welcome.Identity, Index: index})
		p.logger.Info("published welcome", "gid", group.GroupID(), "pid", welcome.Identity, "index", index)
	}
	return nil
}

func (p *pull) groupCommits(ctx context.Context, group *groupkey.Group) error {
	gid := group.GroupID()
	for {
		epoch := group.Epoch()
		item, stop, err := p.fetch(ctx, adapter.NamespaceCommit, gid, epoch)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		span := p.recorder.Start(OperationCommit)
		span.Event.GroupID = gid
		span.Event.Epoch = metrics.Uint64(epoch)
		span.Event.StreamIndex = metrics.Uint64(epoch)
		span.Event.MembersBefore = metrics.Int(len(group.Members()))
		err = p.apply(group, item)
		span.Event.CommitMerged = metrics.Bool(err == nil)
		span.Event.MembersAfter = metrics.Int(len(group.Members()))
		span.End(err)
		if err != nil {
			p.warn(adapter.NamespaceCommit, gid, epoch, err)
			return nil
		}
		p.report.Commits[gid]++
		p.logger.Debug("applied commit", "gid", gid, "epoch", group.Epoch())
	}
}

func (p *pull) apply(group *groupkey.Group, item fetched) error {
	if item.err != nil {
		return item.err
	}
	return group.ProcessCommit(item.payload)
}
