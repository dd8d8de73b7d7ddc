// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/codec"
)

type inspectParams struct {
	AgentFlags
	cli.JSONOutput
	Hex bool `flag:"hex" desc:"print the payload as hex instead of CBOR diagnostic notation"`
}

// inspection is the JSON form of an inspected payload.
type inspection struct {
	Namespace  string `json:"namespace"`
	Owner      string `json:"owner"`
	Index      uint64 `json:"index"`
	Size       int    `json:"size"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Hex        string `json:"hex,omitempty"`
}

func inspectCommand() *cli.Command {
	var params inspectParams
	const usage = "sgm inspect <namespace> <owner> <index> [flags]"
	return &cli.Command{
		Name:    "inspect",
		Summary: "Show a published payload",
		Description: `Fetch one payload from the exchange and print it in CBOR diagnostic
notation (RFC 8949). Namespaces are keypackage, welcome and commit; key
package streams are owned by a pid or by _directory, welcome streams
by the recipient pid, commit streams by the group id.

Inspect does not read or lock the state file.`,
		Usage:  usage,
		Params: func() any { return &params },
		Examples: []cli.Example{
			{
				Description: "Show the first commit of a group",
				Command:     "sgm inspect commit chat-3f9a1c2b 0",
			},
			{
				Description: "Dump a welcome as hex",
				Command:     "sgm inspect welcome bob_1a2b3c4d 0 --hex",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) (err error) {
			if err := exactArguments(usage, args, 3); err != nil {
				return err
			}
			namespace, owner := args[0], args[1]
			switch namespace {
			case adapter.NamespaceKeyPackage, adapter.NamespaceWelcome, adapter.NamespaceCommit:
			default:
				return cli.Validation("unknown namespace %q (want %s, %s or %s)", namespace,
					adapter.NamespaceKeyPackage, adapter.NamespaceWelcome, adapter.NamespaceCommit)
			}
			index, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return cli.Validation("invalid index %q", args[2])
			}

			cfg, err := params.resolve()
			if err != nil {
				return err
			}
			opened, err := openExchange(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := opened.Close(); closeErr != nil && err == nil {
					err = cli.Internal("closing exchange: %w", closeErr)
				}
			}()

			payload, found, err := opened.adapter.FetchAt(ctx, namespace, owner, index)
			if err != nil {
				return categorize(err)
			}
			if !found {
				return cli.NotFound("nothing published at %s/%s/%d", namespace, owner, index)
			}

			result := inspection{Namespace: namespace, Owner: owner, Index: index, Size: len(payload)}
			if params.Hex {
				result.Hex = hex.EncodeToString(payload)
			} else {
				result.Diagnostic, err = codec.Diagnose(payload)
				if err != nil {
					return cli.Validation("%s/%s/%d is not CBOR: %w", namespace, owner, index, err).
						WithHint("Use --hex to print the raw bytes.")
				}
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			if params.Hex {
				fmt.Fprintln(cli.Stdout, result.Hex)
			} else {
				fmt.Fprintln(cli.Stdout, result.Diagnostic)
			}
			return nil
		},
	}
}
