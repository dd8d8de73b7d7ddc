// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the sgm CLI command tree.
//
// Every agent command embeds [AgentFlags], resolves the effective
// configuration (config file, then flags), opens the exchange backend
// and runs through [agent.Run]: lock, load or reset, sync, operation,
// save. Errors leave the package categorized as [cli.ToolError].
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/version"
)

// Root builds and returns the complete sgm command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "sgm",
		Description: `sgm: secure group membership agent.

Each invocation loads this agent's state file, pulls what peers have
published to the exchange, runs one command and saves the state.`,
		Subcommands: []*cli.Command{
			whoamiCommand(),
			peersCommand(),
			groupsCommand(),
			syncCommand(),
			advertiseCommand(),
			groupCommand(),
			inspectCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create an identity and advertise a key package",
				Command:     "sgm advertise --reset --pid-prefix alice --dir /srv/exchange",
			},
			{
				Description: "Create a group and add a peer",
				Command:     "sgm group create chat && sgm group add chat-3f9a1c2b bob_1a2b3c4d",
			},
			{
				Description: "Use a DHT proxy instead of a shared directory",
				Command:     "sgm sync --adapter dht --host 10.0.0.5 --port 8000",
			},
		},
	}
}

func versionCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Params:  func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if err := noArguments("version", args); err != nil {
				return err
			}
			if done, err := params.EmitJSON(version.Get()); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "sgm %s\n", version.Full())
			return nil
		},
	}
}
