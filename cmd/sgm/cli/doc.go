// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the sgm CLI.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a parameter struct whose
// tagged fields become flags, and a Run function. Commands are
// assembled into a tree in cmd/sgm/commands and dispatched via
// [Command.Execute], which handles flag parsing, subcommand routing,
// and structured help output with examples.
//
// Parameter structs declare flags with struct tags (see [BindFlags]).
// Embedding [JSONOutput] adds --json and [JSONOutput.EmitJSON].
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3).
//
// Errors returned by commands can be classified with [ToolError]
// categories so scripts can tell bad input from a transient outage.
package cli
