// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "SGM_CONFIG"

// Config is the agent configuration.
type Config struct {
	// Root is the base directory that default paths derive from.
	Root string `yaml:"root" json:"root"`

	State   StateConfig   `yaml:"state" json:"state"`
	Adapter AdapterConfig `yaml:"adapter" json:"adapter"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Export  ExportConfig  `yaml:"export" json:"export"`

	// Peers are pids whose key package streams are always polled,
	// in addition to those discovered through the directory stream.
	Peers []string `yaml:"peers" json:"peers"`
}

// StateConfig configures the persisted agent state.
type StateConfig struct {
	// Path is the state file. Default: ${SGM_ROOT}/state.json
	Path string `yaml:"path" json:"path"`

	// PIDPrefix is the human-readable part of a fresh pid.
	// Default: agent
	PIDPrefix string `yaml:"pid_prefix" json:"pid_prefix"`
}

// AdapterConfig selects the store-and-forward backend.
type AdapterConfig struct {
	// Backend is one of file, dht, sqlite. Default: file
	Backend string `yaml:"backend" json:"backend"`

	// Compression is one of none, lz4, zstd. Default: none
	Compression string `yaml:"compression" json:"compression"`

	File   FileAdapterConfig   `yaml:"file" json:"file"`
	DHT    DHTAdapterConfig    `yaml:"dht" json:"dht"`
	SQLite SQLiteAdapterConfig `yaml:"sqlite" json:"sqlite"`
}

// FileAdapterConfig configures the shared-directory backend.
type FileAdapterConfig struct {
	// Directory holds one file per published payload.
	// Default: ${SGM_ROOT}/exchange
	Directory string `yaml:"directory" json:"directory"`
}

// DHTAdapterConfig configures the OpenDHT REST proxy backend.
type DHTAdapterConfig struct {
	// Host of the proxy. Default: 127.0.0.1
	Host string `yaml:"host" json:"host"`

	// Port of the proxy. Default: 8000
	Port int `yaml:"port" json:"port"`

	// Timeout per HTTP request, as a Go duration. Default: 10s
	Timeout string `yaml:"timeout" json:"timeout"`
}

// SQLiteAdapterConfig configures the SQLite backend.
type SQLiteAdapterConfig struct {
	// Path of the database. Default: ${SGM_ROOT}/exchange.db
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig configures the JSONL event log.
type MetricsConfig struct {
	// Path of the event log. Empty disables metrics.
	Path string `yaml:"path" json:"path"`
}

// ExportConfig holds defaults for group export.
type ExportConfig struct {
	// Label is the exporter label. Default: export
	Label string `yaml:"label" json:"label"`

	// Length is the exported secret length in bytes. Default: 32
	Length int `yaml:"length" json:"length"`
}

// Default returns the configuration used when no file is given, and
// the base that a file is merged over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "sgm")

	return &Config{
		Root: defaultRoot,
		State: StateConfig{
			Path:      filepath.Join(defaultRoot, "state.json"),
			PIDPrefix: "agent",
		},
		Adapter: AdapterConfig{
			Backend:     "file",
			Compression: "none",
			File:        FileAdapterConfig{Directory: filepath.Join(defaultRoot, "exchange")},
			DHT:         DHTAdapterConfig{Host: "127.0.0.1", Port: 8000, Timeout: "10s"},
			SQLite:      SQLiteAdapterConfig{Path: filepath.Join(defaultRoot, "exchange.db")},
		},
		Export: ExportConfig{Label: "export", Length: 32},
	}
}

// Load loads configuration from the file named by SGM_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sgm config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	// Paths left unset in the file follow a root the file changes.
	derived := cfg.derivedPaths()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.rebaseDerived(derived)
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		return decoder.Decode(c)
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		err := decoder.Decode(c)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

type derivedPaths struct {
	root, state, directory, database string
}

func (c *Config) derivedPaths() derivedPaths {
	return derivedPaths{
		root:      c.Root,
		state:     c.State.Path,
		directory: c.Adapter.File.Directory,
		database:  c.Adapter.SQLite.Path,
	}
}

// rebaseDerived moves default paths under a root set by the file.
func (c *Config) rebaseDerived(before derivedPaths) {
	if c.Root == before.root {
		return
	}
	if c.State.Path == before.state {
		c.State.Path = filepath.Join("${SGM_ROOT}", "state.json")
	}
	if c.Adapter.File.Directory == before.directory {
		c.Adapter.File.Directory = filepath.Join("${SGM_ROOT}", "exchange")
	}
	if c.Adapter.SQLite.Path == before.database {
		c.Adapter.SQLite.Path = filepath.Join("${SGM_ROOT}", "exchange.db")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SGM_ROOT": c.Root,
		"HOME":     os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["SGM_ROOT"] = c.Root

	c.State.Path = expandVars(c.State.Path, vars)
	c.Adapter.File.Directory = expandVars(c.Adapter.File.Directory, vars)
	c.Adapter.SQLite.Path = expandVars(c.Adapter.SQLite.Path, vars)
	c.Metrics.Path = expandVars(c.Metrics.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// DHTTimeout parses Adapter.DHT.Timeout.
func (c *Config) DHTTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Adapter.DHT.Timeout)
	if err != nil {
		return 0, fmt.Errorf("adapter.dht.timeout: %w", err)
	}
	return timeout, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.State.Path == "" {
		errs = append(errs, fmt.Errorf("state.path is required"))
	}
	if c.State.PIDPrefix == "" {
		errs = append(errs, fmt.Errorf("state.pid_prefix is required"))
	} else if strings.ContainsAny(c.State.PIDPrefix, " \t\n/") {
		errs = append(errs, fmt.Errorf("state.pid_prefix %q must not contain whitespace or '/'", c.State.PIDPrefix))
	}

	switch c.Adapter.Backend {
	case "file":
		if c.Adapter.File.Directory == "" {
			errs = append(errs, fmt.Errorf("adapter.file.directory is required for the file backend"))
		}
	case "dht":
		if c.Adapter.DHT.Host == "" {
			errs = append(errs, fmt.Errorf("adapter.dht.host is required for the dht backend"))
		}
		if c.Adapter.DHT.Port <= 0 || c.Adapter.DHT.Port > 65535 {
			errs = append(errs, fmt.Errorf("adapter.dht.port %d out of range", c.Adapter.DHT.Port))
		}
		if timeout, err := c.DHTTimeout(); err != nil {
			errs = append(errs, err)
		} else if timeout <= 0 {
			errs = append(errs, fmt.Errorf("adapter.dht.timeout must be positive"))
		}
	case "sqlite":
		if c.Adapter.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("adapter.sqlite.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.backend must be one of: [file dht sqlite], got %q", c.Adapter.Backend))
	}

	compressionValues := []string{"none", "lz4", "zstd"}
	if !contains(compressionValues, c.Adapter.Compression) {
		errs = append(errs, fmt.Errorf("adapter.compression must be one of: %v", compressionValues))
	}

	if c.Export.Length <= 0 || c.Export.Length > 255*32 {
		errs = append(errs, fmt.Errorf("export.length %d out of range [1, %d]", c.Export.Length, 255*32))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the parent directories of configured files.
func (c *Config) EnsurePaths() error {
	directories := []string{filepath.Dir(c.State.Path)}
	switch c.Adapter.Backend {
	case "file":
		directories = append(directories, c.Adapter.File.Directory)
	case "sqlite":
		directories = append(directories, filepath.Dir(c.Adapter.SQLite.Path))
	}
	if c.Metrics.Path != "" {
		directories = append(directories, filepath.Dir(c.Metrics.Path))
	}

	for _, directory := range directories {
		if directory == "" || directory == "." {
			continue
		}
		if err := os.MkdirAll(directory, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
