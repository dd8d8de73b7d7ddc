// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package groupctl executes user-driven group operations: advertising
// a key package, creating groups, adding and removing members,
// rotating key material, exporting secrets, and listing rosters.
//
// A [Controller] binds one agent's [state.State] to the group key
// engine and an [adapter.Adapter]. Operations that change a group
// stage a commit in the engine, publish it at the group's commit
// stream index equal to the current epoch, and only then merge it.
// Welcomes for added members are published afterwards, appended to
// each new member's welcome stream. If another member already
// published a commit for the epoch, the staged commit is discarded and
// the operation fails with an error wrapping [adapter.ErrIndexTaken];
// syncing picks up the winning commit.
//
// Mutating operations require the group to be in the state's group
// list ([ErrNotMember] otherwise) and its engine state to load.
package groupctl
