// Package sqlite provides the single-file storage driver: a version store and
// a LIKE-based search index over one SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	"scrapbook/internal/repository/codec"
	"scrapbook/internal/repository/sqlite/migrations"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store owns the SQLite database shared by the version store and search index.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

// Open opens a SQLite store at path and applies bundled migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time keeps the head compare-and-swap serial.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := ApplyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, logger: logger}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// VersionStore returns the store's version store
func (s *Store) VersionStore() *VersionStore {
	return &VersionStore{sqlDB: s.sqlDB, logger: s.logger}
}

// SearchIndex returns the store's search index
func (s *Store) SearchIndex() *SearchIndex {
	return &SearchIndex{sqlDB: s.sqlDB, logger: s.logger}
}

// VersionStore implements the VersionStore interface over SQLite
type VersionStore struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

var _ docsysRepo.VersionStore = (*VersionStore)(nil)

const versionColumns = "seq, version_id, parent_id, message, snapshot, content_hash, forked_from, created_at"

// Head returns the most recent version of key
func (s *VersionStore) Head(ctx context.Context, key models.DocumentKey) (*models.Version, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT v.seq, v.version_id, v.parent_id, v.message, v.snapshot, v.content_hash, v.forked_from, v.created_at
FROM documents d
JOIN versions v ON v.author = d.author AND v.id = d.id AND v.seq = d.head_seq
WHERE d.author = ? AND d.id = ?
`, key.Author, key.ID)

	v, err := scanVersion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "get head", Err: err}
	}
	return v, nil
}

// Version returns the version with sequence seq
func (s *VersionStore) Version(ctx context.Context, key models.DocumentKey, seq int64) (*models.Version, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE author = ? AND id = ? AND seq = ?",
		key.Author, key.ID, seq)

	v, err := scanVersion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("version %d of %s: %w", seq, key, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "get version", Err: err}
	}
	return v, nil
}

// Versions returns versions newest-first with seq < before
func (s *VersionStore) Versions(ctx context.Context, key models.DocumentKey, before int64, limit int) ([]models.Version, error) {
	if _, err := headSeq(ctx, s.sqlDB, key); err != nil {
		return nil, err
	}

	// SQLite treats a negative LIMIT as unbounded
	lim := int64(-1)
	if limit > 0 {
		lim = int64(limit)
	}
	var beforeArg sql.NullInt64
	if before > 0 {
		beforeArg = sql.NullInt64{Int64: before, Valid: true}
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+versionColumns+`
FROM versions
WHERE author = ?1 AND id = ?2 AND (?3 IS NULL OR seq < ?3)
ORDER BY seq DESC
LIMIT ?4
`, key.Author, key.ID, beforeArg, lim)
	if err != nil {
		return nil, &domain.StorageError{Op: "list versions", Err: err}
	}
	defer rows.Close()

	versions := []models.Version{}
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan version", Err: err}
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate versions", Err: err}
	}
	return versions, nil
}

// WriteVersion appends v as the new head if the head is still v.Seq-1
func (s *VersionStore) WriteVersion(ctx context.Context, key models.DocumentKey, v *models.Version) error {
	blob, err := codec.EncodeSnapshot(v.Snapshot)
	if err != nil {
		return &domain.StorageError{Op: "encode snapshot", Err: err}
	}
	forkedFrom, err := codec.EncodeForkRef(v.ForkedFrom)
	if err != nil {
		return &domain.StorageError{Op: "encode fork ref", Err: err}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin write", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	created := toMillis(v.CreatedAt)
	if v.Seq == 1 {
		result, err := tx.ExecContext(ctx, `
INSERT INTO documents (author, id, kind, head_seq, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT (author, id) DO NOTHING
`, key.Author, key.ID, string(v.Snapshot.Kind), created, created)
		if err != nil {
			return &domain.StorageError{Op: "create document", Err: err}
		}
		if n, _ := result.RowsAffected(); n == 0 {
			actual, _ := headSeq(ctx, tx, key)
			return domain.NewHeadConflict(key.String(), 0, actual)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
UPDATE documents
SET head_seq = ?, kind = ?, updated_at = ?
WHERE author = ? AND id = ? AND head_seq = ?
`, v.Seq, string(v.Snapshot.Kind), created, key.Author, key.ID, v.Seq-1)
		if err != nil {
			return &domain.StorageError{Op: "advance head", Err: err}
		}
		if n, _ := result.RowsAffected(); n == 0 {
			actual, err := headSeq(ctx, tx, key)
			if err != nil {
				return err
			}
			return domain.NewHeadConflict(key.String(), v.Seq-1, actual)
		}
	}

	var forkedArg sql.NullString
	if forkedFrom != nil {
		forkedArg = sql.NullString{String: *forkedFrom, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO versions (author, id, `+versionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, key.Author, key.ID, v.Seq, v.ID, v.ParentID, v.Message, blob, v.ContentHash, forkedArg, created)
	if err != nil {
		if isConstraintError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("version %d of %s already exists", v.Seq, key),
				ResourceType: "version",
				ResourceID:   v.ID,
			}
		}
		return &domain.StorageError{Op: "insert version", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit write", Err: err}
	}
	s.logger.Debug("version written", "key", key.String(), "seq", v.Seq, "version_id", v.ID)
	return nil
}

// ListKeys returns the author's document keys sorted by id
func (s *VersionStore) ListKeys(ctx context.Context, author string) ([]models.DocumentKey, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT id FROM documents WHERE author = ? ORDER BY id ASC", author)
	if err != nil {
		return nil, &domain.StorageError{Op: "list keys", Err: err}
	}
	defer rows.Close()

	keys := []models.DocumentKey{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &domain.StorageError{Op: "scan key", Err: err}
		}
		keys = append(keys, models.DocumentKey{Author: author, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate keys", Err: err}
	}
	return keys, nil
}

// ListHeads returns up to limit heads ordered by (author, id) after the given key
func (s *VersionStore) ListHeads(ctx context.Context, after models.DocumentKey, limit int) ([]models.HeadRef, error) {
	query := `SELECT author, id, head_seq FROM documents
		WHERE author > ? OR (author = ? AND id > ?)
		ORDER BY author ASC, id ASC`
	args := []any{after.Author, after.Author, after.ID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "list heads", Err: err}
	}
	defer rows.Close()

	heads := []models.HeadRef{}
	for rows.Next() {
		var h models.HeadRef
		if err := rows.Scan(&h.Key.Author, &h.Key.ID, &h.Seq); err != nil {
			return nil, &domain.StorageError{Op: "scan head", Err: err}
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate heads", Err: err}
	}
	return heads, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func headSeq(ctx context.Context, q queryRower, key models.DocumentKey) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, "SELECT head_seq FROM documents WHERE author = ? AND id = ?", key.Author, key.ID).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
		}
		return 0, &domain.StorageError{Op: "get head seq", Err: err}
	}
	return seq, nil
}

func scanVersion(scan func(dest ...any) error) (*models.Version, error) {
	var (
		v          models.Version
		blob       []byte
		forkedFrom sql.NullString
		createdAt  int64
	)
	if err := scan(&v.Seq, &v.ID, &v.ParentID, &v.Message, &blob, &v.ContentHash, &forkedFrom, &createdAt); err != nil {
		return nil, err
	}
	v.CreatedAt = fromMillis(createdAt)

	snapshot, err := codec.DecodeSnapshot(blob)
	if err != nil {
		return nil, err
	}
	v.Snapshot = snapshot

	if forkedFrom.Valid {
		if v.ForkedFrom, err = codec.DecodeForkRef(&forkedFrom.String); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
