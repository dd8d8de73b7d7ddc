// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/agent"
	"github.com/bureau-foundation/sgm/lib/syncer"
)

// agentParams are the params of agent commands without flags of their own.
type agentParams struct {
	AgentFlags
	cli.JSONOutput
}

func noArguments(command string, args []string) error {
	if len(args) > 0 {
		return cli.Validation("%s takes no positional arguments, got %q", command, args[0])
	}
	return nil
}

func whoamiCommand() *cli.Command {
	var params agentParams
	return &cli.Command{
		Name:    "whoami",
		Summary: "Print this agent's pid and signing key",
		Usage:   "sgm whoami [flags]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := noArguments("whoami", args); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				identity := session.Controller.Identity()
				if done, err := params.EmitJSON(identity); done {
					return err
				}
				fmt.Fprintf(cli.Stdout, "pid          %s\n", identity.PID)
				fmt.Fprintf(cli.Stdout, "signing key  %s\n", identity.SigningPublicKey)
				fmt.Fprintf(cli.Stdout, "fingerprint  %s\n", identity.Fingerprint)
				return nil
			})
		},
	}
}

func peersCommand() *cli.Command {
	var params agentParams
	return &cli.Command{
		Name:    "peers",
		Summary: "List peers with a known key package",
		Usage:   "sgm peers [flags]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := noArguments("peers", args); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				return printList(&params.JSONOutput, session.Controller.Peers())
			})
		},
	}
}

func groupsCommand() *cli.Command {
	var params agentParams
	return &cli.Command{
		Name:    "groups",
		Summary: "List the groups this agent is a member of",
		Description: `List the group ids in this agent's group list. Groups with stored
state that are missing from the list are reported as warnings on
stderr; they are not synced.`,
		Usage:  "sgm groups [flags]",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := noArguments("groups", args); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				for _, gid := range session.Controller.UnlistedGroups() {
					logger.Warn("group state without a group list entry", "gid", gid)
				}
				return printList(&params.JSONOutput, session.Controller.Groups())
			})
		},
	}
}

func printList(output *cli.JSONOutput, items []string) error {
	if done, err := output.EmitJSON(items); done {
		return err
	}
	for _, item := range items {
		fmt.Fprintln(cli.Stdout, item)
	}
	return nil
}

// syncSummary is the printable form of a sync report.
type syncSummary struct {
	Joined      []string          `json:"joined"`
	KeyPackages []string          `json:"key_packages"`
	Commits     map[string]int    `json:"commits"`
	Welcomes    []syncer.Delivery `json:"welcomes"`
	Warnings    []string          `json:"warnings"`
}

func syncCommand() *cli.Command {
	var params agentParams
	return &cli.Command{
		Name:    "sync",
		Summary: "Pull key packages, welcomes and commits",
		Description: `Pull every stream this agent follows and apply what is new.

Key packages are read from the shared directory stream and from each
peer's own stream. Welcomes addressed to this agent join their groups.
Commits advance each joined group in epoch order, and welcomes still
owed for this agent's merged commits are published. Every other command
performs the same pull before it runs; sync does only the pull.

Failures that affect a single payload are reported as warnings and do
not fail the command.`,
		Usage:  "sgm sync [flags]",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := noArguments("sync", args); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(_ context.Context, session *agent.Session) error {
				report := session.Report
				summary := syncSummary{
					Joined:      report.Joined,
					KeyPackages: report.KeyPackages,
					Commits:     report.Commits,
					Welcomes:    report.Welcomes,
				}
				for _, warning := range report.Warnings {
					summary.Warnings = append(summary.Warnings, warning.String())
				}
				if done, err := params.EmitJSON(summary); done {
					return err
				}

				for _, gid := range summary.Joined {
					fmt.Fprintf(cli.Stdout, "joined %s\n", gid)
				}
				for _, pid := range summary.KeyPackages {
					fmt.Fprintf(cli.Stdout, "key package %s\n", pid)
				}
				groups := make([]string, 0, len(summary.Commits))
				for gid := range summary.Commits {
					groups = append(groups, gid)
				}
				slices.Sort(groups)
				for _, gid := range groups {
					fmt.Fprintf(cli.Stdout, "applied %d commit(s) to %s\n", summary.Commits[gid], gid)
				}
				for _, delivery := range summary.Welcomes {
					fmt.Fprintf(cli.Stdout, "welcomed %s to %s (welcome index %d)\n", delivery.PID, delivery.GroupID, delivery.Index)
				}
				for _, warning := range summary.Warnings {
					fmt.Fprintf(cli.Stdout, "warning %s\n", warning)
				}
				return nil
			})
		},
	}
}

func advertiseCommand() *cli.Command {
	var params agentParams
	return &cli.Command{
		Name:    "advertise",
		Summary: "Publish a fresh key package",
		Description: `Create a new key package and publish it on this agent's key package
stream and on the shared directory stream, so peers can add this agent
to their groups.`,
		Usage:  "sgm advertise [flags]",
		Params: func() any { return &params },
		Examples: []cli.Example{
			{
				Description: "Create an identity and advertise it in one step",
				Command:     "sgm advertise --reset --pid-prefix alice --dir /srv/exchange",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := noArguments("advertise", args); err != nil {
				return err
			}
			return params.runAgent(ctx, logger, func(ctx context.Context, session *agent.Session) error {
				advertisement, err := session.Controller.Advertise(ctx)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(advertisement); done {
					return err
				}
				fmt.Fprintf(cli.Stdout, "published key package %s at index %d (directory index %d)\n",
					advertisement.Ref, advertisement.Index, advertisement.DirectoryIndex)
				return nil
			})
		},
	}
}
