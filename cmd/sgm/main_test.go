// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"", slog.LevelWarn},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"error", slog.LevelError},
		{"loud", slog.LevelWarn},
	}
	for _, test := range tests {
		if got := logLevel(test.name); got != test.want {
			t.Errorf("logLevel(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}
