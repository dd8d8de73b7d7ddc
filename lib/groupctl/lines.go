// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package groupctl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// LineSource supplies operation arguments one per line, for add and
// remove operations invoked without explicit arguments.
type LineSource interface {
	Lines() ([]string, error)
}

// ReaderSource reads lines from an io.Reader until EOF.
type ReaderSource struct {
	Reader io.Reader
}

// Lines returns the trimmed non-blank lines, skipping lines whose
// first non-space character is '#'.
func (r ReaderSource) Lines() ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r.Reader)
	for scanner.Scan() {
		if line, ok := cleanLine(scanner.Text()); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading arguments: %w", err)
	}
	return lines, nil
}

// StaticSource is a fixed list of lines, filtered like ReaderSource.
type StaticSource []string

func (s StaticSource) Lines() ([]string, error) {
	var lines []string
	for _, raw := range s {
		if line, ok := cleanLine(raw); ok {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func cleanLine(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	return line, true
}

// arguments returns explicit if non-empty, otherwise the lines of
// source.
func arguments(explicit []string, source LineSource) ([]string, error) {
	if len(explicit) > 0 || source == nil {
		return explicit, nil
	}
	return source.Lines()
}
