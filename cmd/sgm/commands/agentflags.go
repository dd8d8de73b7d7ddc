// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/agent"
	"github.com/bureau-foundation/sgm/lib/clock"
	"github.com/bureau-foundation/sgm/lib/config"
	"github.com/bureau-foundation/sgm/lib/metrics"
)

// AgentFlags are the flags shared by every command that runs the
// agent. Flag values override the config file; a zero value leaves
// the file (or default) value in place.
type AgentFlags struct {
	ConfigPath  string
	StatePath   string
	Reset       bool
	PIDPrefix   string
	Backend     string
	Directory   string
	Host        string
	Port        int
	Database    string
	Peers       []string
	MetricsPath string
	Compression string

	// resolved is the effective config of the current invocation.
	resolved *config.Config
}

// AddFlags registers the agent flags.
func (f *AgentFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ConfigPath, "config", "", "config file (YAML or JSONC); default $"+config.EnvironmentVariable)
	flagSet.StringVar(&f.StatePath, "state", "", "state file path")
	flagSet.BoolVar(&f.Reset, "reset", false, "discard any existing state and create a new identity")
	flagSet.StringVar(&f.PIDPrefix, "pid-prefix", "", "pid prefix for a new identity (with --reset)")
	flagSet.StringVar(&f.Backend, "adapter", "", "exchange backend: file, dht or sqlite")
	flagSet.StringVar(&f.Directory, "dir", "", "file backend directory")
	flagSet.StringVar(&f.Host, "host", "", "DHT proxy host")
	flagSet.IntVar(&f.Port, "port", 0, "DHT proxy port")
	flagSet.StringVar(&f.Database, "db", "", "SQLite backend database")
	flagSet.StringSliceVar(&f.Peers, "peer", nil, "pid whose key packages are always polled (repeatable)")
	flagSet.StringVar(&f.MetricsPath, "metrics", "", "append metrics events to this JSONL file")
	flagSet.StringVar(&f.Compression, "compression", "", "payload compression: none, lz4 or zstd")
}

// resolve loads the config file named by --config or $SGM_CONFIG, or
// the defaults when neither is set, and applies the flag overrides.
func (f *AgentFlags) resolve() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case f.ConfigPath != "":
		cfg, err = config.LoadFile(f.ConfigPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, cli.Validation("%w", err)
	}

	override(&cfg.State.Path, f.StatePath)
	override(&cfg.State.PIDPrefix, f.PIDPrefix)
	override(&cfg.Adapter.Backend, f.Backend)
	override(&cfg.Adapter.File.Directory, f.Directory)
	override(&cfg.Adapter.DHT.Host, f.Host)
	override(&cfg.Adapter.SQLite.Path, f.Database)
	override(&cfg.Metrics.Path, f.MetricsPath)
	override(&cfg.Adapter.Compression, f.Compression)
	if f.Port != 0 {
		cfg.Adapter.DHT.Port = f.Port
	}
	cfg.Peers = append(cfg.Peers, f.Peers...)

	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, cli.Internal("%w", err)
	}
	return cfg, nil
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// exchange is an opened adapter with its metrics recorder.
type exchange struct {
	adapter  adapter.Adapter
	recorder *metrics.Recorder
	closers  []io.Closer
}

func (e *exchange) Close() error {
	var errs []error
	for _, closer := range e.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// openExchange opens the configured backend and, when a metrics path
// is set, the recorder that instruments it.
func openExchange(cfg *config.Config, logger *slog.Logger) (*exchange, error) {
	timeout, err := cfg.DHTTimeout()
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	compression, err := adapter.ParseCompression(cfg.Adapter.Compression)
	if err != nil {
		return nil, cli.Validation("%w", err)
	}

	opened := &exchange{}
	if cfg.Metrics.Path != "" {
		recorder, err := metrics.Open(cfg.Metrics.Path, clock.Real())
		if err != nil {
			return nil, cli.Internal("%w", err)
		}
		opened.recorder = recorder
		opened.closers = append(opened.closers, recorder)
	}

	backend, closer, err := adapter.Open(adapter.Config{
		Backend:     cfg.Adapter.Backend,
		Directory:   cfg.Adapter.File.Directory,
		Host:        cfg.Adapter.DHT.Host,
		Port:        cfg.Adapter.DHT.Port,
		Timeout:     timeout,
		Database:    cfg.Adapter.SQLite.Path,
		Compression: compression,
		Recorder:    opened.recorder,
		Logger:      logger,
	})
	if err != nil {
		opened.Close()
		return nil, categorize(err)
	}
	opened.adapter = backend
	// The backend closes before the recorder it reports to.
	opened.closers = append([]io.Closer{closer}, opened.closers...)
	return opened, nil
}

// runAgent runs one agent invocation: resolve config, open the
// exchange, then lock, load, sync, run operation and save.
func (f *AgentFlags) runAgent(ctx context.Context, logger *slog.Logger, operation agent.Operation) (err error) {
	cfg, err := f.resolve()
	if err != nil {
		return err
	}
	f.resolved = cfg
	opened, err := openExchange(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := opened.Close(); closeErr != nil && err == nil {
			err = cli.Internal("closing exchange: %w", closeErr)
		}
	}()

	err = agent.Run(ctx, agent.RunConfig{
		StatePath: cfg.State.Path,
		Reset:     f.Reset,
		PIDPrefix: cfg.State.PIDPrefix,
		Peers:     cfg.Peers,
		Adapter:   opened.adapter,
		Recorder:  opened.recorder,
		Logger:    logger,
	}, operation)
	return categorize(err)
}
