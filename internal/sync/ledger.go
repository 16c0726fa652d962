package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/mirrorbox/mirrorbox/internal/db"
	"github.com/mirrorbox/mirrorbox/internal/utils"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS sync_ledger (
    local_path TEXT PRIMARY KEY,
    remote_id TEXT NOT NULL UNIQUE,
    last_local_modified INTEGER NOT NULL,
    last_remote_modified INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_remote_id ON sync_ledger(remote_id);
`

// ErrLedgerCorrupt means the ledger holds a record mapping that contradicts
// the requested write (one remote object bound to two paths). Fatal for the
// affected path only, never for the pass.
var ErrLedgerCorrupt = errors.New("ledger: conflicting record mapping")

// Record is the last-synchronized state of one path/remote-ID pair: the
// local and remote modification timestamps observed at the moment of the
// last successful propagation.
type Record struct {
	LocalPath          string `db:"local_path"`
	RemoteID           string `db:"remote_id"`
	LastLocalModified  int64  `db:"last_local_modified"`
	LastRemoteModified int64  `db:"last_remote_modified"`
}

// Ledger is the durable mapping between local paths and remote object IDs,
// backed by SQLite. It is the system's only persistent state.
type Ledger struct {
	db     *sqlx.DB
	dbPath string
}

func NewLedger(dbPath string) *Ledger {
	return &Ledger{
		dbPath: dbPath,
	}
}

// Open the ledger and the underlying database.
func (l *Ledger) Open() error {
	if l.db != nil {
		return fmt.Errorf("ledger already open")
	}

	if err := utils.EnsureParent(l.dbPath); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	sqldb, err := db.NewSqliteDb(db.WithPath(l.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("failed to open ledger db: %w", err)
	}

	if _, err := sqldb.Exec(ledgerSchema); err != nil {
		sqldb.Close()
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	l.db = sqldb
	return nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return fmt.Errorf("ledger not open")
	}
	if err := l.db.Close(); err != nil {
		return err
	}
	l.db = nil
	slog.Debug("ledger closed")
	return nil
}

// ByLocalPath returns the record keyed by local path, or nil if absent.
func (l *Ledger) ByLocalPath(path string) (*Record, error) {
	var rec Record
	err := l.db.Get(&rec, "SELECT * FROM sync_ledger WHERE local_path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: query path %s: %w", path, err)
	}
	return &rec, nil
}

// ByRemoteID returns the record keyed by remote object ID, or nil if absent.
func (l *Ledger) ByRemoteID(id string) (*Record, error) {
	var rec Record
	err := l.db.Get(&rec, "SELECT * FROM sync_ledger WHERE remote_id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: query id %s: %w", id, err)
	}
	return &rec, nil
}

// Upsert records a successful propagation. Timestamps only ever move
// forward; a write older than the stored state is clamped to it. A remote ID
// already bound to a different path is corruption for this path.
func (l *Ledger) Upsert(localPath, remoteID string, localMod, remoteMod int64) error {
	byID, err := l.ByRemoteID(remoteID)
	if err != nil {
		return err
	}
	if byID != nil && byID.LocalPath != localPath {
		return fmt.Errorf("%w: remote %s already bound to %s", ErrLedgerCorrupt, remoteID, byID.LocalPath)
	}

	byPath, err := l.ByLocalPath(localPath)
	if err != nil {
		return err
	}
	if byPath != nil && byPath.RemoteID == remoteID {
		localMod = max(localMod, byPath.LastLocalModified)
		remoteMod = max(remoteMod, byPath.LastRemoteModified)
	}

	rec := Record{
		LocalPath:          localPath,
		RemoteID:           remoteID,
		LastLocalModified:  localMod,
		LastRemoteModified: remoteMod,
	}
	query := `INSERT OR REPLACE INTO sync_ledger (local_path, remote_id, last_local_modified, last_remote_modified)
	          VALUES (:local_path, :remote_id, :last_local_modified, :last_remote_modified)`
	if _, err := l.db.NamedExec(query, rec); err != nil {
		return fmt.Errorf("ledger: upsert %s: %w", localPath, err)
	}
	slog.Debug("ledger upsert", "path", localPath, "id", remoteID, "local", localMod, "remote", remoteMod)
	return nil
}

// Delete removes the record for one path.
func (l *Ledger) Delete(localPath string) error {
	if _, err := l.db.Exec("DELETE FROM sync_ledger WHERE local_path = ?", localPath); err != nil {
		return fmt.Errorf("ledger: delete %s: %w", localPath, err)
	}
	return nil
}

// DeleteTree removes the record for a path and every record beneath it, so
// deleting a directory keeps the path↔counterpart invariant for the whole
// subtree.
func (l *Ledger) DeleteTree(localPath string) error {
	_, err := l.db.Exec(
		"DELETE FROM sync_ledger WHERE local_path = ? OR local_path LIKE ? || '/%'",
		localPath, localPath,
	)
	if err != nil {
		return fmt.Errorf("ledger: delete tree %s: %w", localPath, err)
	}
	return nil
}

// Count returns the number of records in the ledger.
func (l *Ledger) Count() (int, error) {
	var count int
	if err := l.db.Get(&count, "SELECT COUNT(*) FROM sync_ledger"); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return count, nil
}
