// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/sgm/lib/sqlitepool"
)

var _ Adapter = (*SQLiteAdapter)(nil)

const payloadSchema = `CREATE TABLE IF NOT EXISTS payloads (
	namespace TEXT NOT NULL,
	owner     TEXT NOT NULL,
	idx       INTEGER NOT NULL,
	data      BLOB NOT NULL,
	PRIMARY KEY (namespace, owner, idx)
) WITHOUT ROWID`

// SQLiteAdapter stores payloads in one SQLite table. Several agents on
// one host can share the database file; the primary key makes
// PublishAt an atomic claim.
type SQLiteAdapter struct {
	pool *sqlitepool.Pool
	path string
}

// NewSQLiteAdapter opens (creating if needed) the database at path.
// The caller must call Close.
func NewSQLiteAdapter(path string, logger *slog.Logger) (*SQLiteAdapter, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 2,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, payloadSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}
	return &SQLiteAdapter{pool: pool, path: path}, nil
}

// Close releases the database.
func (s *SQLiteAdapter) Close() error {
	return s.pool.Close()
}

// firstEmptyIndex finds the lowest unused index of a stream, the same
// slot publishNext would claim on the other backends.
const firstEmptyIndex = `SELECT CASE
	WHEN NOT EXISTS (SELECT 1 FROM payloads WHERE namespace = :namespace AND owner = :owner AND idx = 0) THEN 0
	ELSE (SELECT MIN(p.idx) + 1 FROM payloads p
		WHERE p.namespace = :namespace AND p.owner = :owner
		AND NOT EXISTS (SELECT 1 FROM payloads q
			WHERE q.namespace = p.namespace AND q.owner = p.owner AND q.idx = p.idx + 1))
	END`

// Publish claims the first empty index of the stream inside one
// immediate transaction.
func (s *SQLiteAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (index uint64, err error) {
	address := Address{Namespace: namespace, Owner: owner}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, unavailable("sqlite publish", address, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, unavailable("sqlite publish", address, err)
	}
	defer endTransaction(&err)

	var next int64
	err = sqlitex.Execute(conn, firstEmptyIndex,
		&sqlitex.ExecOptions{
			Named: map[string]any{":namespace": namespace, ":owner": owner},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				next = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, unavailable("sqlite publish", address, err)
	}

	address.Index = uint64(next)
	err = sqlitex.Execute(conn,
		`INSERT INTO payloads (namespace, owner, idx, data) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{namespace, owner, next, payload}})
	if err != nil {
		return 0, unavailable("sqlite publish", address, err)
	}
	return address.Index, nil
}

func (s *SQLiteAdapter) PublishAt(ctx context.Context, namespace, owner string, index uint64, payload []byte) error {
	address := Address{Namespace: namespace, Owner: owner, Index: index}
	if index > maxSQLiteIndex {
		return fmt.Errorf("sqlite publish %s: index exceeds int64", address)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return unavailable("sqlite publish", address, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO payloads (namespace, owner, idx, data) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{namespace, owner, int64(index), payload}})
	if err != nil {
		return unavailable("sqlite publish", address, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("sqlite publish %s: %w", address, ErrIndexTaken)
	}
	return nil
}

func (s *SQLiteAdapter) FetchAt(ctx context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	address := Address{Namespace: namespace, Owner: owner, Index: index}
	if index > maxSQLiteIndex {
		return nil, false, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, unavailable("sqlite fetch", address, err)
	}
	defer s.pool.Put(conn)

	var (
		data  []byte
		found bool
	)
	err = sqlitex.Execute(conn,
		`SELECT data FROM payloads WHERE namespace = ? AND owner = ? AND idx = ?`,
		&sqlitex.ExecOptions{
			Args: []any{namespace, owner, int64(index)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, false, unavailable("sqlite fetch", address, err)
	}
	return data, found, nil
}

const maxSQLiteIndex = 1<<63 - 1
