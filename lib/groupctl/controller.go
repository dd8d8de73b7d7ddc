// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupctl

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/groupkey"
	"github.com/bureau-foundation/sgm/lib/metrics"
	"github.com/bureau-foundation/sgm/lib/state"
)

var (
	// ErrUnknownPeer means a pid to add has no stored key package.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNotMember means the group is not in the agent's group list.
	ErrNotMember = errors.New("not a member of group")

	// ErrInvalidArgument means an operation argument is malformed or
	// missing: a bad group label, an unparseable leaf index, an empty
	// member list.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrGroupExists means the group id derived for a new group is
	// already in use by this agent.
	ErrGroupExists = groupkey.ErrGroupExists
)

// Metrics operation names.
const (
	OperationAdvertise = "advertise"
	OperationCreate    = "group_create"
	OperationAdd       = "group_add"
	OperationRemove    = "group_remove"
	OperationUpdate    = "group_update"
	OperationExport    = "group_export"
)

// Config holds Controller dependencies.
type Config struct {
	State   *state.State
	Adapter adapter.Adapter

	// Recorder receives one event per operation. May be nil.
	Recorder *metrics.Recorder

	// Logger receives operation logs. If nil, discarded.
	Logger *slog.Logger
}

// Controller runs group operations for one agent.
type Controller struct {
	state    *state.State
	adapter  adapter.Adapter
	provider *groupkey.Provider
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New creates a Controller.
func New(config Config) (*Controller, error) {
	if config.State == nil {
		return nil, fmt.Errorf("groupctl: state is required")
	}
	if config.Adapter == nil {
		return nil, fmt.Errorf("groupctl: adapter is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	st := config.State
	return &Controller{
		state:    st,
		adapter:  config.Adapter,
		provider: groupkey.NewProvider(st.Bridge(), st.PID, st.SigningKey),
		recorder: config.Recorder,
		logger:   logger,
	}, nil
}

// Identity describes the agent.
type Identity struct {
	PID              string `json:"pid"`
	SigningPublicKey string `json:"signing_public_key"`
	Fingerprint      string `json:"fingerprint"`
}

// Identity returns the agent's pid and signing key.
func (c *Controller) Identity() Identity {
	publicKey := c.state.SigningPublicKey()
	return Identity{
		PID:              c.state.PID,
		SigningPublicKey: hex.EncodeToString(publicKey),
		Fingerprint:      groupkey.Fingerprint(publicKey),
	}
}

// Peers returns the pids with a known key package, sorted.
func (c *Controller) Peers() []string {
	return c.state.KnownPeers()
}

// Groups returns the group ids the agent is a member of, sorted.
func (c *Controller) Groups() []string {
	return append([]string(nil), c.state.GroupIDs...)
}

// UnlistedGroups returns the ids of groups with stored engine state
// that are missing from the group list, sorted.
func (c *Controller) UnlistedGroups() []string {
	var unlisted []string
	for _, gid := range c.provider.GroupIDs() {
		if !c.state.HasGroup(gid) {
			unlisted = append(unlisted, gid)
		}
	}
	return unlisted
}

// Advertisement reports where a key package was published.
type Advertisement struct {
	Ref            string `json:"ref"`
	Index          uint64 `json:"index"`
	DirectoryIndex uint64 `json:"directory_index"`
}

// Advertise creates a fresh key package and publishes it to the
// agent's key package stream and to the shared directory stream.
func (c *Controller) Advertise(ctx context.Context) (_ *Advertisement, err error) {
	span := c.recorder.Start(OperationAdvertise)
	defer func() { span.End(err) }()

	keyPackage, err := c.provider.NewKeyPackage()
	if err != nil {
		return nil, err
	}
	encoded := keyPackage.Encoded()
	span.Event.PayloadBytes = metrics.Int(len(encoded))

	index, err := c.adapter.Publish(ctx, adapter.NamespaceKeyPackage, c.state.PID, encoded)
	if err != nil {
		return nil, fmt.Errorf("publishing key package: %w", err)
	}
	directoryIndex, err := c.adapter.Publish(ctx, adapter.NamespaceKeyPackage, adapter.DirectoryOwner, encoded)
	if err != nil {
		return nil, fmt.Errorf("publishing key package to directory: %w", err)
	}
	span.Event.StreamIndex = metrics.Uint64(index)

	c.logger.Info("advertised key package", "ref", keyPackage.Ref(), "index", index, "directory_index", directoryIndex)
	return &Advertisement{Ref: keyPackage.Ref(), Index: index, DirectoryIndex: directoryIndex}, nil
}

// CreateGroup creates a single-member group with id
// label + "-" + fingerprint and adds it to the group list.
func (c *Controller) CreateGroup(label string) (_ string, err error) {
	span := c.recorder.Start(OperationCreate)
	defer func() { span.End(err) }()

	if label == "" {
		return "", fmt.Errorf("group label is required: %w", ErrInvalidArgument)
	}
	if strings.ContainsAny(label, " \t\n/") {
		return "", fmt.Errorf("group label %q must not contain whitespace or '/': %w", label, ErrInvalidArgument)
	}

	gid := groupkey.GroupID(label, c.state.SigningPublicKey())
	span.Event.GroupID = gid
	if c.state.HasGroup(gid) {
		return "", fmt.Errorf("%s: %w", gid, ErrGroupExists)
	}
	group, err := c.provider.CreateGroup(gid)
	if err != nil {
		return "", err
	}
	c.state.AddGroup(gid)
	span.Event.Epoch = metrics.Uint64(group.Epoch())
	span.Event.MembersAfter = metrics.Int(len(group.Members()))

	c.logger.Info("created group", "gid", gid)
	return gid, nil
}

// WelcomeReceipt reports where a welcome was published.
type WelcomeReceipt struct {
	PID   string `json:"pid"`
	Index uint64 `json:"index"`
}

// CommitResult reports a published and merged commit.
type CommitResult struct {
	GroupID string `json:"gid"`

	// CommitIndex is the commit stream index the commit was published
	// at: the epoch it was created in.
	CommitIndex uint64 `json:"commit_index"`

	// Epoch is the group's epoch after the merge.
	Epoch uint64 `json:"epoch"`

	Welcomes []WelcomeReceipt `json:"welcomes,omitempty"`
}

// AddMembers adds one member per pid. With no pids, they are read
// from source. Every pid must have a stored key package; otherwise
// the operation fails with ErrUnknownPeer before anything is staged.
func (c *Controller) AddMembers(ctx context.Context, gid string, pids []string, source LineSource) (_ *CommitResult, err error) {
	span := c.startGroupSpan(OperationAdd, gid)
	defer func() { span.End(err) }()

	pids, err = arguments(pids, source)
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		return nil, fmt.Errorf("no peers to add to %s: %w", gid, ErrInvalidArgument)
	}

	keyPackages := make([]*groupkey.KeyPackage, 0, len(pids))
	for _, pid := range pids {
		encoded, found := c.state.KeyPackages[pid]
		if !found {
			return nil, fmt.Errorf("%s: %w", pid, ErrUnknownPeer)
		}
		keyPackage, err := groupkey.ParseKeyPackage(encoded)
		if err != nil {
			return nil, fmt.Errorf("stored key package for %s: %w", pid, err)
		}
		keyPackages = append(keyPackages, keyPackage)
	}

	group, err := c.loadGroup(gid)
	if err != nil {
		return nil, err
	}
	span.Event.MembersBefore = metrics.Int(len(group.Members()))
	bundle, err := group.AddMembers(keyPackages)
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, span, group, bundle)
}

// RemoveMembers removes the members at the given leaf indexes. With no
// leaves, they are read from source as decimal numbers.
func (c *Controller) RemoveMembers(ctx context.Context, gid string, leaves []uint32, source LineSource) (_ *CommitResult, err error) {
	span := c.startGroupSpan(OperationRemove, gid)
	defer func() { span.End(err) }()

	if len(leaves) == 0 && source != nil {
		lines, err := source.Lines()
		if err != nil {
			return nil, err
		}
		leaves, err = ParseLeaves(lines)
		if err != nil {
			return nil, err
		}
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("no leaves to remove from %s: %w", gid, ErrInvalidArgument)
	}

	group, err := c.loadGroup(gid)
	if err != nil {
		return nil, err
	}
	span.Event.MembersBefore = metrics.Int(len(group.Members()))
	bundle, err := group.RemoveMembers(leaves)
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, span, group, bundle)
}

// SelfUpdate rotates the agent's encryption key in the group.
func (c *Controller) SelfUpdate(ctx context.Context, gid string) (_ *CommitResult, err error) {
	span := c.startGroupSpan(OperationUpdate, gid)
	defer func() { span.End(err) }()

	group, err := c.loadGroup(gid)
	if err != nil {
		return nil, err
	}
	span.Event.MembersBefore = metrics.Int(len(group.Members()))
	bundle, err := group.SelfUpdate()
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, span, group, bundle)
}

// ExportSecret derives length bytes for label from the group's current
// epoch.
func (c *Controller) ExportSecret(gid, label string, length int) (_ []byte, err error) {
	span := c.startGroupSpan(OperationExport, gid)
	defer func() { span.End(err) }()

	group, err := c.provider.LoadGroup(gid)
	if err != nil {
		return nil, err
	}
	span.Event.Epoch = metrics.Uint64(group.Epoch())
	return group.ExportSecret(label, length)
}

// ListMembers returns the group roster in leaf order.
func (c *Controller) ListMembers(gid string) ([]groupkey.Member, error) {
	group, err := c.provider.LoadGroup(gid)
	if err != nil {
		return nil, err
	}
	return group.Members(), nil
}

// ParseLeaves parses decimal leaf indexes.
func ParseLeaves(values []string) ([]uint32, error) {
	leaves := make([]uint32, 0, len(values))
	for _, value := range values {
		leaf, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("leaf index %q: %w", value, ErrInvalidArgument)
		}
		leaves = append(leaves, uint32(leaf))
	}
	return leaves, nil
}

func (c *Controller) startGroupSpan(operation, gid string) *metrics.Span {
	span := c.recorder.Start(operation)
	span.Event.GroupID = gid
	return span
}

func (c *Controller) loadGroup(gid string) (*groupkey.Group, error) {
	if !c.state.HasGroup(gid) {
		return nil, fmt.Errorf("%s: %w", gid, ErrNotMember)
	}
	return c.provider.LoadGroup(gid)
}

// publish places the staged commit at its epoch index, merges it, then
// publishes the welcomes.
func (c *Controller) publish(ctx context.Context, span *metrics.Span, group *groupkey.Group, bundle *groupkey.CommitBundle) (*CommitResult, error) {
	gid := group.GroupID()
	span.Event.CommitBytes = metrics.Int(len(bundle.Commit))
	span.Event.StreamIndex = metrics.Uint64(bundle.Epoch)

	err := c.adapter.PublishAt(ctx, adapter.NamespaceCommit, gid, bundle.Epoch, bundle.Commit)
	if errors.Is(err, adapter.ErrIndexTaken) {
		if clearErr := group.ClearPending(); clearErr != nil {
			return nil, clearErr
		}
		return nil, fmt.Errorf("commit for %s epoch %d lost to another member (sync and retry): %w", gid, bundle.Epoch, err)
	}
	if err != nil {
		// The commit stays staged: if the publish landed after all,
		// the next sync fetches it back and merges it.
		return nil, fmt.Errorf("publishing commit for %s epoch %d: %w", gid, bundle.Epoch, err)
	}
	if err := group.MergePending(); err != nil {
		return nil, err
	}
	span.Event.Epoch = metrics.Uint64(group.Epoch())
	span.Event.MembersAfter = metrics.Int(len(group.Members()))
	c.logger.Info("published commit", "gid", gid, "index", bundle.Epoch, "epoch", group.Epoch())

	result := &CommitResult{GroupID: gid, CommitIndex: bundle.Epoch, Epoch: group.Epoch()}
	receipts, welcomeBytes, err := c.deliverWelcomes(ctx, group)
	result.Welcomes = receipts
	if welcomeBytes > 0 {
		span.Event.WelcomeBytes = metrics.Int(welcomeBytes)
	}
	if err != nil {
		return result, fmt.Errorf("%w (commit already merged; the welcome is retried on the next sync)", err)
	}
	return result, nil
}

// deliverWelcomes publishes the group's outbox in order, stopping at
// the first failure. Undelivered welcomes stay in the outbox.
func (c *Controller) deliverWelcomes(ctx context.Context, group *groupkey.Group) ([]WelcomeReceipt, int, error) {
	var receipts []WelcomeReceipt
	welcomeBytes := 0
	for _, welcome := range group.Outbox() {
		index, err := c.adapter.Publish(ctx, adapter.NamespaceWelcome, welcome.Identity, welcome.Data)
		if err != nil {
			return receipts, welcomeBytes, fmt.Errorf("publishing welcome for %s: %w", welcome.Identity, err)
		}
		if err := group.WelcomeDelivered(welcome); err != nil {
			return receipts, welcomeBytes, err
		}
		welcomeBytes += len(welcome.Data)
		receipts = append(receipts, WelcomeReceipt{PID: welcome.Identity, Index: index})
		c.logger.Info("published welcome", "gid", group.GroupID(), "pid", welcome.Identity, "index", index)
	}
	return receipts, welcomeBytes, nil
}
