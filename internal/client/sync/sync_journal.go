package sync

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/treesync/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
    path TEXT PRIMARY KEY,
    rev TEXT NOT NULL,
    synced_mtime INTEGER NOT NULL -- unix nanoseconds
);
`

// dbSyncRecord is the row form of a SyncRecord.
type dbSyncRecord struct {
	Path        string `db:"path"`
	Rev         string `db:"rev"`
	SyncedMtime int64  `db:"synced_mtime"`
}

// JournalStateStore keeps the state in a SQLite database. Each Save replaces
// the table contents inside one transaction.
type JournalStateStore struct {
	db     *sqlx.DB
	dbPath string
}

// NewJournalStateStore opens the journal at dbPath. A database that cannot be
// opened is moved aside and replaced with an empty one.
func NewJournalStateStore(dbPath string) (*JournalStateStore, error) {
	s := &JournalStateStore{dbPath: dbPath}
	if err := s.open(); err != nil {
		slog.Warn("sync journal unreadable, starting fresh", "path", dbPath, "error", err)
		if err := s.moveAside(); err != nil {
			return nil, err
		}
		if err := s.open(); err != nil {
			return nil, fmt.Errorf("failed to create sync journal: %w", err)
		}
	}
	return s, nil
}

func (s *JournalStateStore) open() error {
	conn, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return err
	}

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *JournalStateStore) Load() (*SyncState, error) {
	var rows []dbSyncRecord
	if err := s.db.Select(&rows, "SELECT path, rev, synced_mtime FROM sync_state"); err != nil {
		return NewSyncState(), &StateCorruptError{Path: s.dbPath, Err: err}
	}

	state := NewSyncState()
	for _, row := range rows {
		state.Set(row.Path, SyncRecord{Rev: row.Rev, SyncedMtime: time.Unix(0, row.SyncedMtime)})
	}
	slog.Debug("sync journal loaded", "path", s.dbPath, "records", len(rows))
	return state, nil
}

func (s *JournalStateStore) Save(state *SyncState) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM sync_state"); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO sync_state (path, rev, synced_mtime) VALUES (:path, :rev, :synced_mtime)`)
	if err != nil {
		return fmt.Errorf("failed to prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for path, rec := range state.Snapshot() {
		row := dbSyncRecord{Path: path, Rev: rec.Rev, SyncedMtime: rec.SyncedMtime.UnixNano()}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("failed to set state for path %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}
	slog.Debug("sync journal saved", "path", s.dbPath, "records", state.Len())
	return nil
}

// Count returns the number of rows in the journal.
func (s *JournalStateStore) Count() (int, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM sync_state"); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

func (s *JournalStateStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close sync journal database", "error", err)
		return err
	}
	s.db = nil
	return nil
}

// moveAside renames an unusable journal to <path>.<timestamp>.bak.
func (s *JournalStateStore) moveAside() error {
	timestamp := time.Now().Format("20060102150405")
	if err := os.Rename(s.dbPath, fmt.Sprintf("%s.%s.bak", s.dbPath, timestamp)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename journal file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.dbPath + suffix)
	}
	return nil
}
