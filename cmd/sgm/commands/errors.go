// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"io/fs"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/groupctl"
	"github.com/bureau-foundation/sgm/lib/groupkey"
	"github.com/bureau-foundation/sgm/lib/state"
)

// categorize wraps err in a ToolError by its sentinel. Errors that are
// already categorized pass through.
func categorize(err error) error {
	if err == nil {
		return nil
	}
	var toolErr *cli.ToolError
	if errors.As(err, &toolErr) {
		return err
	}

	switch {
	case errors.Is(err, state.ErrStateLocked):
		return cli.Wrap(cli.CategoryConflict, err).
			WithHint("Another sgm process is using this state file; retry when it exits.")
	case errors.Is(err, adapter.ErrIndexTaken):
		return cli.Wrap(cli.CategoryConflict, err).
			WithHint("Another member committed first. Run 'sgm sync' and retry.")
	case errors.Is(err, groupctl.ErrGroupExists):
		return cli.Wrap(cli.CategoryConflict, err)

	case errors.Is(err, groupctl.ErrInvalidArgument),
		errors.Is(err, groupkey.ErrInvalidProposal):
		return cli.Wrap(cli.CategoryValidation, err)

	case errors.Is(err, state.ErrStateIO) && errors.Is(err, fs.ErrNotExist):
		return cli.Wrap(cli.CategoryNotFound, err)
	case errors.Is(err, groupctl.ErrUnknownPeer):
		return cli.Wrap(cli.CategoryNotFound, err).
			WithHint("The peer must run 'sgm advertise' and you must sync before it can be added.")
	case errors.Is(err, groupctl.ErrNotMember),
		errors.Is(err, groupkey.ErrGroupNotFound),
		errors.Is(err, groupkey.ErrRemoved):
		return cli.Wrap(cli.CategoryNotFound, err)

	case errors.Is(err, adapter.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return cli.Wrap(cli.CategoryTransient, err)

	default:
		return cli.Wrap(cli.CategoryInternal, err)
	}
}
