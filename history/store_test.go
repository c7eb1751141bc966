package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lanxfer/model"
)

func TestOpenCreatesDatabaseAndAppliesMigrations(t *testing.T) {
	dataDir := t.TempDir()
	store, dbPath, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	if dbPath != filepath.Join(dataDir, DefaultDBFileName) {
		t.Fatalf("unexpected db path: got %q", dbPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	var version int
	if err := store.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", journalMode)
	}
}

func TestRecordIgnoresNonTerminalAndUpsertsTerminal(t *testing.T) {
	store, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	inProgress := model.TransferInfo{
		ID:        "t-1",
		PeerID:    "peer-1",
		Direction: model.DirectionOutgoing,
		Status:    model.StatusInProgress,
		FileName:  "a.bin",
		FileSize:  100,
	}
	if err := store.Record(inProgress); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err := store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected non-terminal record to be skipped, got %d rows", len(rows))
	}

	completed := inProgress
	completed.Status = model.StatusCompleted
	completed.BytesTransferred = 100
	completed.EndTimeMs = time.Now().UnixMilli()
	if err := store.Record(completed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err = store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Status != model.StatusCompleted || rows[0].Progress != 100 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}

	// A later terminal update for the same transfer ID replaces it rather
	// than appending a second row.
	failed := completed
	failed.Status = model.StatusFailed
	failed.ErrorMessage = "connection reset"
	if err := store.Record(failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err = store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected upsert to keep 1 row, got %d", len(rows))
	}
	if rows[0].Status != model.StatusFailed || rows[0].ErrorMessage != "connection reset" {
		t.Fatalf("unexpected row after upsert: %+v", rows[0])
	}
}

func TestWatchRecordsTerminalEventsFromChannel(t *testing.T) {
	store, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	events := make(chan model.TransferInfo, 4)
	stop := store.Watch(events)

	events <- model.TransferInfo{ID: "t-1", Direction: model.DirectionIncoming, Status: model.StatusInProgress}
	events <- model.TransferInfo{ID: "t-1", Direction: model.DirectionIncoming, Status: model.StatusCompleted, EndTimeMs: 1}
	close(events)
	stop()

	rows, err := store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 recorded row, got %d", len(rows))
	}
}
