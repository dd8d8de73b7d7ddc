// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Adapter.Backend != "file" {
		t.Errorf("expected backend=file, got %s", cfg.Adapter.Backend)
	}
	if cfg.State.PIDPrefix != "agent" {
		t.Errorf("expected pid_prefix=agent, got %s", cfg.State.PIDPrefix)
	}
	if cfg.Export.Label != "export" || cfg.Export.Length != 32 {
		t.Errorf("expected export defaults export/32, got %s/%d", cfg.Export.Label, cfg.Export.Length)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresSGMConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SGM_CONFIG not set, got nil")
	}
	expectedMsg := "SGM_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithSGMConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sgm.yaml")
	configContent := `
state:
  path: /test/alice.json
  pid_prefix: alice
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.State.Path != "/test/alice.json" {
		t.Errorf("expected state.path=/test/alice.json, got %s", cfg.State.Path)
	}
	if cfg.State.PIDPrefix != "alice" {
		t.Errorf("expected pid_prefix=alice, got %s", cfg.State.PIDPrefix)
	}
	// Unset fields keep their defaults.
	if cfg.Adapter.Backend != "file" {
		t.Errorf("expected backend default to survive, got %s", cfg.Adapter.Backend)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sgm.yaml")
	configContent := `
root: /srv/sgm
adapter:
  backend: dht
  compression: zstd
  dht:
    host: dht.example.net
    port: 4222
    timeout: 3s
peers:
  - bob_0a0b0c0d
  - carol_01020304
metrics:
  path: ${SGM_ROOT}/metrics.jsonl
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Adapter.DHT.Host != "dht.example.net" || cfg.Adapter.DHT.Port != 4222 {
		t.Errorf("dht = %+v", cfg.Adapter.DHT)
	}
	timeout, err := cfg.DHTTimeout()
	if err != nil || timeout != 3*time.Second {
		t.Errorf("DHTTimeout = %v, %v", timeout, err)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[1] != "carol_01020304" {
		t.Errorf("peers = %v", cfg.Peers)
	}
	if cfg.Metrics.Path != "/srv/sgm/metrics.jsonl" {
		t.Errorf("metrics.path = %s", cfg.Metrics.Path)
	}
	// Default paths follow the root set in the file.
	if cfg.State.Path != "/srv/sgm/state.json" {
		t.Errorf("state.path = %s, want /srv/sgm/state.json", cfg.State.Path)
	}
	if cfg.Adapter.File.Directory != "/srv/sgm/exchange" {
		t.Errorf("adapter.file.directory = %s", cfg.Adapter.File.Directory)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sgm.jsonc")
	configContent := `{
  // Shared SQLite exchange for agents on this host.
  "adapter": {
    "backend": "sqlite",
    "sqlite": {"path": "/var/lib/sgm/exchange.db"},
  },
  "export": {"label": "media", "length": 16},
}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Adapter.Backend != "sqlite" || cfg.Adapter.SQLite.Path != "/var/lib/sgm/exchange.db" {
		t.Errorf("adapter = %+v", cfg.Adapter)
	}
	if cfg.Export.Label != "media" || cfg.Export.Length != 16 {
		t.Errorf("export = %+v", cfg.Export)
	}
}

func TestLoadFile_UnknownField(t *testing.T) {
	for name, content := range map[string]string{
		"sgm.yaml": "adapter:\n  backnd: file\n",
		"sgm.json": `{"adapter": {"backnd": "file"}}`,
	} {
		configPath := filepath.Join(t.TempDir(), name)
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadFile(configPath); err == nil {
			t.Errorf("%s: expected error for misspelled field", name)
		}
	}
}

func TestLoadFile_Empty(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sgm.yaml")
	if err := os.WriteFile(configPath, nil, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile on empty file: %v", err)
	}
	if cfg.Adapter.Backend != "file" {
		t.Errorf("expected defaults from empty file, got backend=%s", cfg.Adapter.Backend)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("SGM_TEST_DIR", "/from/env")
	vars := map[string]string{"SGM_ROOT": "/root/sgm"}

	tests := []struct {
		input string
		want  string
	}{
		{"${SGM_ROOT}/state.json", "/root/sgm/state.json"},
		{"${SGM_TEST_DIR}/x", "/from/env/x"},
		{"${SGM_UNSET_VAR:-/fallback}/x", "/fallback/x"},
		{"/plain/path", "/plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Adapter.Backend = "ftp" }, "adapter.backend"},
		{"bad compression", func(c *Config) { c.Adapter.Compression = "gzip" }, "adapter.compression"},
		{"dht port", func(c *Config) { c.Adapter.Backend = "dht"; c.Adapter.DHT.Port = 0 }, "adapter.dht.port"},
		{"dht timeout", func(c *Config) { c.Adapter.Backend = "dht"; c.Adapter.DHT.Timeout = "soon" }, "adapter.dht.timeout"},
		{"pid prefix", func(c *Config) { c.State.PIDPrefix = "a b" }, "state.pid_prefix"},
		{"export length", func(c *Config) { c.Export.Length = 0 }, "export.length"},
		{"state path", func(c *Config) { c.State.Path = "" }, "state.path"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("error %q does not mention %q", err, test.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.State.Path = filepath.Join(root, "state", "alice.json")
	cfg.Adapter.File.Directory = filepath.Join(root, "exchange")
	cfg.Metrics.Path = filepath.Join(root, "logs", "metrics.jsonl")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, directory := range []string{"state", "exchange", "logs"} {
		info, err := os.Stat(filepath.Join(root, directory))
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", directory, err)
		}
	}
}
