// Package history persists terminal transfer snapshots to a local SQLite
// database, independent of and never consulted by the in-memory transfer
// registry it observes.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"lanxfer/model"
)

// DefaultDBFileName is the SQLite filename under the app data directory.
const DefaultDBFileName = "history.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfer_history (
  transfer_id       TEXT PRIMARY KEY,
  peer_id           TEXT NOT NULL,
  peer_name         TEXT NOT NULL,
  peer_address      TEXT NOT NULL,
  direction         TEXT NOT NULL CHECK(direction IN ('Incoming','Outgoing')),
  status            TEXT NOT NULL,
  file_name         TEXT NOT NULL,
  file_size         INTEGER NOT NULL,
  bytes_transferred INTEGER NOT NULL,
  error_message     TEXT NOT NULL DEFAULT '',
  start_time_ms     INTEGER NOT NULL,
  end_time_ms       INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfer_history_end_time
ON transfer_history (end_time_ms DESC, transfer_id);
`,
}

// Store is a thin wrapper around a SQLite connection holding completed
// transfer records.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) history.db under dataDir and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("history: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("history: enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("history: enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("history: read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("history: apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("history: set schema version %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// Record upserts a terminal transfer snapshot. Non-terminal snapshots are
// ignored: this store logs outcomes, not live progress.
func (s *Store) Record(info model.TransferInfo) error {
	if !info.Status.Terminal() {
		return nil
	}

	_, err := s.db.Exec(`
INSERT INTO transfer_history
  (transfer_id, peer_id, peer_name, peer_address, direction, status, file_name, file_size, bytes_transferred, error_message, start_time_ms, end_time_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(transfer_id) DO UPDATE SET
  status = excluded.status,
  bytes_transferred = excluded.bytes_transferred,
  error_message = excluded.error_message,
  end_time_ms = excluded.end_time_ms
`,
		info.ID, info.PeerID, info.PeerName, info.PeerAddress, string(info.Direction), string(info.Status),
		info.FileName, info.FileSize, info.BytesTransferred, info.ErrorMessage, info.StartTimeMs, info.EndTimeMs,
	)
	if err != nil {
		return fmt.Errorf("history: record transfer %q: %w", info.ID, err)
	}
	return nil
}

// List returns the most recently completed transfers, most recent first.
func (s *Store) List(limit int) ([]model.TransferInfo, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
SELECT transfer_id, peer_id, peer_name, peer_address, direction, status, file_name, file_size, bytes_transferred, error_message, start_time_ms, end_time_ms
FROM transfer_history
ORDER BY end_time_ms DESC, transfer_id
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list transfers: %w", err)
	}
	defer rows.Close()

	var out []model.TransferInfo
	for rows.Next() {
		var (
			info      model.TransferInfo
			direction string
			status    string
		)
		if err := rows.Scan(&info.ID, &info.PeerID, &info.PeerName, &info.PeerAddress, &direction, &status,
			&info.FileName, &info.FileSize, &info.BytesTransferred, &info.ErrorMessage, &info.StartTimeMs, &info.EndTimeMs); err != nil {
			return nil, fmt.Errorf("history: scan transfer row: %w", err)
		}
		info.Direction = model.TransferDirection(direction)
		info.Status = model.TransferStatus(status)
		info.Progress = model.DeriveProgress(info.BytesTransferred, info.FileSize)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Watch subscribes to a transfer event stream and records every terminal
// snapshot it observes. The returned stop function waits for the consumer
// goroutine to drain and exit.
func (s *Store) Watch(events <-chan model.TransferInfo) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for info := range events {
			if err := s.Record(info); err != nil {
				continue
			}
		}
	}()
	return func() { <-done }
}
