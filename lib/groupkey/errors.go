// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupkey

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed means a key package, welcome, or commit failed to
	// parse, verify, or decrypt.
	ErrMalformed = errors.New("malformed message")

	// ErrWrongEpoch means a commit targets an epoch other than the
	// group's current one.
	ErrWrongEpoch = errors.New("commit for wrong epoch")

	// ErrRemoved means a commit removes this member from the group.
	ErrRemoved = errors.New("removed from group")

	// ErrStorageCorrupt means a group's stored state is missing or
	// cannot be decoded.
	ErrStorageCorrupt = errors.New("group storage corrupt")

	// ErrGroupNotFound accompanies ErrStorageCorrupt when no state is
	// stored for the group at all.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGroupExists means CreateGroup found state already stored for
	// the group id.
	ErrGroupExists = errors.New("group already exists")

	// ErrInvalidProposal means a staged change cannot apply to the
	// roster: nothing to add or remove, a leaf that is not a member,
	// or an identity that already is one.
	ErrInvalidProposal = errors.New("invalid proposal")
)

// malformed wraps ErrMalformed. format may itself use %w.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}
