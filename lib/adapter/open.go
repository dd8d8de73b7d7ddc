// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/sgm/lib/metrics"
)

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendDHT    = "dht"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend and its decorators.
type Config struct {
	Backend string

	// Directory is the file backend's root.
	Directory string

	// Host, Port and Timeout configure the DHT backend.
	Host    string
	Port    int
	Timeout time.Duration

	// Database is the SQLite backend's file.
	Database string

	// Compression is the algorithm for published payloads.
	Compression Compression

	// Recorder, if non-nil, receives one event per adapter call.
	Recorder *metrics.Recorder

	Logger *slog.Logger
}

// Open builds the configured backend, wraps it with payload framing and
// optional instrumentation, and returns it with a closer for any resources the
// backend holds. The closer is never nil.
func Open(config Config) (Adapter, io.Closer, error) {
	var (
		backend Adapter
		closer  io.Closer = nopCloser{}
	)

	switch config.Backend {
	case BackendFile:
		fileAdapter, err := NewFileAdapter(config.Directory)
		if err != nil {
			return nil, nil, err
		}
		backend = fileAdapter
	case BackendDHT:
		dhtAdapter, err := NewDHTAdapter(DHTConfig{
			Host:    config.Host,
			Port:    config.Port,
			Timeout: config.Timeout,
			Logger:  config.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = dhtAdapter
	case BackendSQLite:
		sqliteAdapter, err := NewSQLiteAdapter(config.Database, config.Logger)
		if err != nil {
			return nil, nil, err
		}
		backend = sqliteAdapter
		closer = sqliteAdapter
	default:
		return nil, nil, fmt.Errorf("adapter: unknown backend %q (want %s, %s or %s)",
			config.Backend, BackendFile, BackendDHT, BackendSQLite)
	}

	// Framing is applied even for CompressionNone so agents with
	// different compression settings can read each other's payloads.
	backend = NewCompressingAdapter(backend, config.Compression)
	if config.Recorder != nil {
		backend = NewInstrumentedAdapter(backend, config.Recorder)
	}
	return backend, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
