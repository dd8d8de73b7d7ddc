// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the sgm agent configuration.
//
// Configuration comes from a single file named by either the
// SGM_CONFIG environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no search path. Without a
// file, [Default] supplies the full configuration and command-line
// flags override individual values.
//
// Files ending in .json or .jsonc are parsed as JSON with comments and
// trailing commas; anything else is parsed as YAML.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${SGM_ROOT}, and ${VAR:-default} patterns are expanded.
//
// This package depends on no other sgm packages.
package config
