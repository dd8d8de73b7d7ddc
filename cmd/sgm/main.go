// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sgm is the secure group membership agent CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/cmd/sgm/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired exit code. Don't print a redundant "error:"
		// line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cli.NewCommandLogger(logLevel(os.Getenv("SGM_LOG_LEVEL")))
	return commands.Root().Execute(ctx, os.Args[1:], logger)
}

// logLevel parses a slog level name, defaulting to warn so that only
// sync warnings reach stderr.
func logLevel(name string) slog.Level {
	level := slog.LevelWarn
	if name != "" {
		if err := level.UnmarshalText([]byte(name)); err != nil {
			return slog.LevelWarn
		}
	}
	return level
}
