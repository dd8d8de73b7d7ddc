// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/agent"
	"github.com/bureau-foundation/sgm/lib/groupctl"
	"github.com/bureau-foundation/sgm/lib/groupkey"
)

// stdin supplies pids and leaves to add and remove when none are given
// as arguments.
var stdin io.Reader = os.Stdin

func groupCommand() *cli.Command {
	return &cli.Command{
		Name:    "group",
		Summary: "Create, change and query groups",
		Description: `Group operations. Every mutating operation publishes one commit at the
group's current epoch and merges it only after the publish succeeds.`,
		Subcommands: []*cli.Command{
			groupCreateCommand(),
			groupMembersCommand(),
			groupExportCommand(),
			groupAddCommand(),
			groupRemoveCommand(),
			groupUpdateCommand(),
		},
	}
}

// exactArguments checks for exactly count positional arguments.
func exactArguments(usage string, args []string, count int) error {
	if len(args) != count {
		return cli.Validation("usage: %s", usage)
	}
	return nil
}

func groupCreateCommand() *cli.Command {
	var params agentParams
	const usage = "sgm group create <label> [flags]"
	return &cli.Command{
		Name:    "create",
		Summary: "Create a single-member group",
		Description: `Create a group with this agent as its only member. The group id is
the label followed by a fingerprint of this agent's signing key.`,
		Usage:  usage,
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := exactArguments(usage, args, 1); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				gid, err := session.Controller.CreateGroup(args[0])
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(map[string]string{"gid": gid}); done {
					return err
				}
				fmt.Fprintln(cli.Stdout, gid)
				return nil
			})
		},
	}
}

// memberEntry is the printable form of a roster entry.
type memberEntry struct {
	Leaf uint32 `json:"leaf"`
	PID  string `json:"pid"`
}

func groupMembersCommand() *cli.Command {
	var params agentParams
	const usage = "sgm group members <gid> [flags]"
	return &cli.Command{
		Name:    "members",
		Summary: "List a group's members in leaf order",
		Usage:   usage,
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := exactArguments(usage, args, 1); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				members, err := session.Controller.ListMembers(args[0])
				if err != nil {
					return err
				}
				entries := make([]memberEntry, 0, len(members))
				for _, member := range members {
					entries = append(entries, memberEntry{Leaf: member.Leaf, PID: member.Identity})
				}
				if done, err := params.EmitJSON(entries); done {
					return err
				}
				for _, entry := range entries {
					fmt.Fprintf(cli.Stdout, "%d\t%s\n", entry.Leaf, entry.PID)
				}
				return nil
			})
		},
	}
}

type exportParams struct {
	AgentFlags
	cli.JSONOutput
	Label  string `flag:"label" desc:"exporter label (default from config: export)"`
	Length int    `flag:"length" desc:"secret length in bytes (default from config: 32)"`
}

func groupExportCommand() *cli.Command {
	var params exportParams
	const usage = "sgm group export <gid> [flags]"
	return &cli.Command{
		Name:    "export",
		Summary: "Derive a secret from the group's current epoch",
		Description: `Derive an application secret from the group's current epoch. Every
member at the same epoch derives the same bytes for the same label and
length. The secret is printed in hex.`,
		Usage:  usage,
		Params: func() any { return &params },
		Examples: []cli.Example{
			{
				Description: "Derive a 16-byte media key",
				Command:     "sgm group export chat-3f9a1c2b --label media --length 16",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := exactArguments(usage, args, 1); err != nil {
				return err
			}
			if params.Length < 0 || params.Length > groupkey.MaxExportLength {
				return cli.Validation("--length %d out of range [1, %d]", params.Length, groupkey.MaxExportLength)
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				label, length := params.Label, params.Length
				if label == "" {
					label = params.resolved.Export.Label
				}
				if length == 0 {
					length = params.resolved.Export.Length
				}
				secret, err := session.Controller.ExportSecret(args[0], label, length)
				if err != nil {
					return err
				}
				encoded := hex.EncodeToString(secret)
				if done, err := params.EmitJSON(map[string]any{
					"gid":    args[0],
					"label":  label,
					"secret": encoded,
				}); done {
					return err
				}
				fmt.Fprintln(cli.Stdout, encoded)
				return nil
			})
		},
	}
}

// printCommit prints result, which may be partial when err is set: a
// commit merged before a welcome failed to publish. err is returned.
func printCommit(output *cli.JSONOutput, result *groupctl.CommitResult, err error) error {
	if result == nil {
		return err
	}
	if done, emitErr := output.EmitJSON(result); done {
		if emitErr != nil {
			return emitErr
		}
		return err
	}
	fmt.Fprintf(cli.Stdout, "%s now at epoch %d (commit index %d)\n", result.GroupID, result.Epoch, result.CommitIndex)
	for _, welcome := range result.Welcomes {
		fmt.Fprintf(cli.Stdout, "welcomed %s (welcome index %d)\n", welcome.PID, welcome.Index)
	}
	return err
}

func groupAddCommand() *cli.Command {
	var params agentParams
	const usage = "sgm group add <gid> [pid...] [flags]"
	return &cli.Command{
		Name:    "add",
		Summary: "Add peers to a group",
		Description: `Add one member per pid. Each pid needs a key package, published with
'sgm advertise' and pulled by a sync. With no pids on the command line,
they are read from stdin one per line; blank lines and lines starting
with '#' are skipped.`,
		Usage:  usage,
		Params: func() any { return &params },
		Examples: []cli.Example{
			{
				Description: "Add two peers",
				Command:     "sgm group add chat-3f9a1c2b bob_1a2b3c4d carol_5e6f7a8b",
			},
			{
				Description: "Add every peer listed in a file",
				Command:     "sgm group add chat-3f9a1c2b < invitees.txt",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("usage: %s", usage)
			}
			gid, pids := args[0], args[1:]
			return params.runAgent(ctx, logger, func(ctx context.Context, session *agent.Session) error {
				result, err := session.Controller.AddMembers(ctx, gid, pids, groupctl.ReaderSource{Reader: stdin})
				return printCommit(&params.JSONOutput, result, err)
			})
		},
	}
}

func groupRemoveCommand() *cli.Command {
	var params agentParams
	const usage = "sgm group remove <gid> [leaf...] [flags]"
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove members from a group by leaf index",
		Description: `Remove the members at the given leaf indexes ('sgm group members'
lists them). With no leaves on the command line, they are read from
stdin one per line.`,
		Usage:  usage,
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("usage: %s", usage)
			}
			gid := args[0]
			leaves, err := groupctl.ParseLeaves(args[1:])
			if err != nil {
				return categorize(err)
			}
			return params.runAgent(ctx, logger, func(ctx context.Context, session *agent.Session) error {
				result, err := session.Controller.RemoveMembers(ctx, gid, leaves, groupctl.ReaderSource{Reader: stdin})
				return printCommit(&params.JSONOutput, result, err)
			})
		},
	}
}

func groupUpdateCommand() *cli.Command {
	var params agentParams
	const usage = "sgm group update <gid> [flags]"
	return &cli.Command{
		Name:    "update",
		Summary: "Rotate this agent's key in a group",
		Usage:   usage,
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := exactArguments(usage, args, 1); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(ctx context.Context, session *agent.Session) error {
				result, err := session.Controller.SelfUpdate(ctx, args[0])
				return printCommit(&params.JSONOutput, result, err)
			})
		},
	}
}
