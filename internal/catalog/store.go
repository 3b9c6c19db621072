package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openvault/cartonbox/internal/db"
)

// SchemaVersion is the catalog schema this build reads and writes. Export and
// import refuse to run against a catalog reporting a different version.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS catalog (
    id TEXT PRIMARY KEY,
    rel_path TEXT NOT NULL UNIQUE,
    content_hash TEXT NOT NULL,
    size INTEGER NOT NULL,
    created_at TEXT NOT NULL,   -- RFC3339
    modified_at TEXT NOT NULL,  -- RFC3339
    accessed_at TEXT NOT NULL,  -- RFC3339
    mime_type TEXT NOT NULL DEFAULT '',
    encrypted INTEGER NOT NULL DEFAULT 0,
    health TEXT NOT NULL DEFAULT 'healthy',
    full_path TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_catalog_rel_path ON catalog(rel_path);
CREATE INDEX IF NOT EXISTS idx_catalog_content_hash ON catalog(content_hash);

CREATE TABLE IF NOT EXISTS schema_info (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS storage_root (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    path TEXT NOT NULL
);
`

// Store is the catalog persistence contract consumed by the monitor, scanner
// and package engine. SaveBatch is transactional: either every entry in the
// batch is written or none are.
type Store interface {
	GetByID(id string) (*Entry, error)
	GetByRelPath(relPath string) (*Entry, error)
	GetByContentHash(hash string) (*Entry, error)
	GetByFullPath(fullPath string) (*Entry, error)
	// Page returns up to limit entries with id > afterID, ordered by id
	// ascending. Pass "" to start from the beginning.
	Page(afterID string, limit int) ([]*Entry, error)
	SaveBatch(ctx context.Context, entries []*Entry) error
	Insert(ctx context.Context, entry *Entry) error
	Count() (int, error)
	All() ([]*Entry, error)
	SchemaVersion() (int, error)
}

// dbEntry mirrors Entry with timestamps as RFC3339 text, which is how SQLite
// stores them.
type dbEntry struct {
	ID          string `db:"id"`
	RelPath     string `db:"rel_path"`
	ContentHash string `db:"content_hash"`
	Size        int64  `db:"size"`
	CreatedAt   string `db:"created_at"`
	ModifiedAt  string `db:"modified_at"`
	AccessedAt  string `db:"accessed_at"`
	MimeType    string `db:"mime_type"`
	Encrypted   bool   `db:"encrypted"`
	Health      string `db:"health"`
	FullPath    string `db:"full_path"`
}

const entryColumns = `id, rel_path, content_hash, size, created_at, modified_at, accessed_at, mime_type, encrypted, health, full_path`

const upsertQuery = `INSERT INTO catalog (` + entryColumns + `)
VALUES (:id, :rel_path, :content_hash, :size, :created_at, :modified_at, :accessed_at, :mime_type, :encrypted, :health, :full_path)
ON CONFLICT(id) DO UPDATE SET
    rel_path = excluded.rel_path,
    content_hash = excluded.content_hash,
    size = excluded.size,
    created_at = excluded.created_at,
    modified_at = excluded.modified_at,
    accessed_at = excluded.accessed_at,
    mime_type = excluded.mime_type,
    encrypted = excluded.encrypted,
    health = excluded.health,
    full_path = excluded.full_path`

// SQLiteStore is the sqlx-backed catalog store.
type SQLiteStore struct {
	db     *sqlx.DB
	dbPath string
}

// NewSQLiteStore creates a store backed by the database at dbPath. Use
// ":memory:" for tests.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

func (s *SQLiteStore) Open() error {
	if s.db != nil {
		return errors.New("catalog store already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize catalog schema: %w", err)
	}
	if _, err := conn.Exec(
		`INSERT INTO schema_info (id, version) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`,
		SchemaVersion,
	); err != nil {
		conn.Close()
		return fmt.Errorf("record schema version: %w", err)
	}

	s.db = conn
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("catalog store not open")
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	return nil
}

func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version int
	if err := s.db.Get(&version, `SELECT version FROM schema_info WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) GetByID(id string) (*Entry, error) {
	return s.getWhere(`id = ?`, id)
}

func (s *SQLiteStore) GetByRelPath(relPath string) (*Entry, error) {
	return s.getWhere(`rel_path = ?`, relPath)
}

func (s *SQLiteStore) GetByContentHash(hash string) (*Entry, error) {
	return s.getWhere(`content_hash = ?`, hash)
}

// GetByFullPath looks an entry up by its advisory absolute-path cache. Used as
// the rename fallback when the prior relative path no longer resolves.
func (s *SQLiteStore) GetByFullPath(fullPath string) (*Entry, error) {
	return s.getWhere(`full_path = ?`, fullPath)
}

func (s *SQLiteStore) getWhere(cond string, arg any) (*Entry, error) {
	var row dbEntry
	err := s.db.Get(&row, `SELECT `+entryColumns+` FROM catalog WHERE `+cond, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return row.toEntry()
}

func (s *SQLiteStore) Page(afterID string, limit int) ([]*Entry, error) {
	var rows []dbEntry
	err := s.db.Select(&rows,
		`SELECT `+entryColumns+` FROM catalog WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query catalog page: %w", err)
	}
	return toEntries(rows)
}

func (s *SQLiteStore) All() ([]*Entry, error) {
	var rows []dbEntry
	err := s.db.Select(&rows, `SELECT `+entryColumns+` FROM catalog ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return toEntries(rows)
}

func (s *SQLiteStore) Count() (int, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM catalog`); err != nil {
		return 0, fmt.Errorf("count catalog entries: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("cannot insert nil entry")
	}
	_, err := s.db.NamedExecContext(ctx, upsertQuery, toDBEntry(entry))
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", entry.RelPath, err)
	}
	return nil
}

// SaveBatch writes every entry in one transaction. A failure on any entry
// rolls the whole batch back.
func (s *SQLiteStore) SaveBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if _, err := tx.NamedExecContext(ctx, upsertQuery, toDBEntry(entry)); err != nil {
			return fmt.Errorf("save entry %s: %w", entry.RelPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	slog.Debug("catalog batch committed", "entries", len(entries))
	return nil
}

func toDBEntry(e *Entry) dbEntry {
	return dbEntry{
		ID:          e.ID,
		RelPath:     e.RelPath,
		ContentHash: e.ContentHash,
		Size:        e.Size,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		ModifiedAt:  e.ModifiedAt.UTC().Format(time.RFC3339Nano),
		AccessedAt:  e.AccessedAt.UTC().Format(time.RFC3339Nano),
		MimeType:    e.MimeType,
		Encrypted:   e.Encrypted,
		Health:      string(e.Health),
		FullPath:    e.FullPath,
	}
}

func (row dbEntry) toEntry() (*Entry, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", row.RelPath, err)
	}
	modifiedAt, err := time.Parse(time.RFC3339Nano, row.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parse modified_at for %s: %w", row.RelPath, err)
	}
	accessedAt, err := time.Parse(time.RFC3339Nano, row.AccessedAt)
	if err != nil {
		return nil, fmt.Errorf("parse accessed_at for %s: %w", row.RelPath, err)
	}
	return &Entry{
		ID:          row.ID,
		RelPath:     row.RelPath,
		ContentHash: row.ContentHash,
		Size:        row.Size,
		CreatedAt:   createdAt,
		ModifiedAt:  modifiedAt,
		AccessedAt:  accessedAt,
		MimeType:    row.MimeType,
		Encrypted:   row.Encrypted,
		Health:      HealthStatus(row.Health),
		FullPath:    row.FullPath,
	}, nil
}

func toEntries(rows []dbEntry) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
