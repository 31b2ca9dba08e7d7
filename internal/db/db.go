// Package db opens the sqlite submission ledger.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the ledger file created in the archive directory.
const FileName = "enge.db"

type Config struct {
	// Dir holds the database file; it is created when missing.
	Dir string
}

// Path returns the db path for dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// Open opens the ledger with a busy timeout so a report running next to a
// test invocation does not fail on a locked file.
func Open(cfg Config) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(Path(cfg.Dir)), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", Path(cfg.Dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
