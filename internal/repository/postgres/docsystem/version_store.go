package docsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	"scrapbook/internal/domain/repositories"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	"scrapbook/internal/repository/codec"
	"scrapbook/internal/repository/postgres"
)

// PostgresVersionStore implements the VersionStore interface
type PostgresVersionStore struct {
	pool      *pgxpool.Pool
	tables    *postgres.TableNames
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewVersionStore creates a new version store
func NewVersionStore(config *postgres.RepositoryConfig) docsysRepo.VersionStore {
	txManager := config.TxManager
	if txManager == nil {
		txManager = postgres.NewTransactionManager(config.Pool, config.Logger)
	}
	return &PostgresVersionStore{
		pool:      config.Pool,
		tables:    config.Tables,
		txManager: txManager,
		logger:    config.Logger,
	}
}

const versionColumns = "seq, version_id, parent_id, message, snapshot, content_hash, forked_from, created_at"

// Head returns the most recent version of key
func (r *PostgresVersionStore) Head(ctx context.Context, key models.DocumentKey) (*models.Version, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s d
		JOIN %s v ON v.author = d.author AND v.id = d.id AND v.seq = d.head_seq
		WHERE d.author = $1 AND d.id = $2
	`, prefixed("v.", versionColumns), r.tables.Documents, r.tables.Versions)

	executor := postgres.GetExecutor(ctx, r.pool)
	v, err := scanVersion(executor.QueryRow(ctx, query, key.Author, key.ID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "get head", Err: err}
	}
	return v, nil
}

// Version returns the version with sequence seq
func (r *PostgresVersionStore) Version(ctx context.Context, key models.DocumentKey, seq int64) (*models.Version, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE author = $1 AND id = $2 AND seq = $3
	`, versionColumns, r.tables.Versions)

	executor := postgres.GetExecutor(ctx, r.pool)
	v, err := scanVersion(executor.QueryRow(ctx, query, key.Author, key.ID, seq))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("version %d of %s: %w", seq, key, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "get version", Err: err}
	}
	return v, nil
}

// Versions returns versions newest-first with seq < before
func (r *PostgresVersionStore) Versions(ctx context.Context, key models.DocumentKey, before int64, limit int) ([]models.Version, error) {
	if _, err := r.headSeq(ctx, key); err != nil {
		return nil, err
	}

	// LIMIT NULL means no limit
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	var beforeArg *int64
	if before > 0 {
		beforeArg = &before
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE author = $1 AND id = $2 AND ($3::BIGINT IS NULL OR seq < $3)
		ORDER BY seq DESC
		LIMIT $4
	`, versionColumns, r.tables.Versions)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, key.Author, key.ID, beforeArg, limitArg)
	if err != nil {
		return nil, &domain.StorageError{Op: "list versions", Err: err}
	}
	defer rows.Close()

	versions := []models.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
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

// WriteVersion appends v as the new head if the head is still v.Seq-1.
// The head pointer and the version row are written in one transaction.
func (r *PostgresVersionStore) WriteVersion(ctx context.Context, key models.DocumentKey, v *models.Version) error {
	blob, err := codec.EncodeSnapshot(v.Snapshot)
	if err != nil {
		return &domain.StorageError{Op: "encode snapshot", Err: err}
	}
	forkedFrom, err := codec.EncodeForkRef(v.ForkedFrom)
	if err != nil {
		return &domain.StorageError{Op: "encode fork ref", Err: err}
	}

	err = r.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		executor := postgres.GetExecutor(txCtx, r.pool)

		if v.Seq == 1 {
			query := fmt.Sprintf(`
				INSERT INTO %s (author, id, kind, head_seq, created_at, updated_at)
				VALUES ($1, $2, $3, 1, $4, $4)
				ON CONFLICT (author, id) DO NOTHING
			`, r.tables.Documents)
			result, err := executor.Exec(txCtx, query, key.Author, key.ID, string(v.Snapshot.Kind), v.CreatedAt)
			if err != nil {
				return &domain.StorageError{Op: "create document", Err: err}
			}
			if result.RowsAffected() == 0 {
				actual, _ := r.headSeq(txCtx, key)
				return domain.NewHeadConflict(key.String(), 0, actual)
			}
		} else {
			query := fmt.Sprintf(`
				UPDATE %s
				SET head_seq = $3, kind = $4, updated_at = $5
				WHERE author = $1 AND id = $2 AND head_seq = $6
			`, r.tables.Documents)
			result, err := executor.Exec(txCtx, query,
				key.Author, key.ID, v.Seq, string(v.Snapshot.Kind), v.CreatedAt, v.Seq-1)
			if err != nil {
				return &domain.StorageError{Op: "advance head", Err: err}
			}
			if result.RowsAffected() == 0 {
				actual, err := r.headSeq(txCtx, key)
				if err != nil {
					return err
				}
				return domain.NewHeadConflict(key.String(), v.Seq-1, actual)
			}
		}

		query := fmt.Sprintf(`
			INSERT INTO %s (author, id, %s)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, r.tables.Versions, versionColumns)
		_, err := executor.Exec(txCtx, query,
			key.Author, key.ID,
			v.Seq, v.ID, v.ParentID, v.Message, blob, v.ContentHash, forkedFrom, v.CreatedAt,
		)
		if err != nil {
			if postgres.IsPgDuplicateError(err) {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("version %d of %s already exists", v.Seq, key),
					ResourceType: "version",
					ResourceID:   v.ID,
				}
			}
			return &domain.StorageError{Op: "insert version", Err: err}
		}
		return nil
	})
	if err != nil {
		var storageErr *domain.StorageError
		var conflictErr *domain.ConflictError
		if errors.As(err, &storageErr) || errors.As(err, &conflictErr) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return &domain.StorageError{Op: "write version", Err: err}
	}

	r.logger.Debug("version written", "key", key.String(), "seq", v.Seq, "version_id", v.ID)
	return nil
}

// ListKeys returns the author's document keys sorted by id
func (r *PostgresVersionStore) ListKeys(ctx context.Context, author string) ([]models.DocumentKey, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s WHERE author = $1 ORDER BY id ASC
	`, r.tables.Documents)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, author)
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
func (r *PostgresVersionStore) ListHeads(ctx context.Context, after models.DocumentKey, limit int) ([]models.HeadRef, error) {
	query := fmt.Sprintf(`
		SELECT author, id, head_seq FROM %s
		WHERE (author, id) > ($1, $2)
		ORDER BY author ASC, id ASC
	`, r.tables.Documents)
	args := []interface{}{after.Author, after.ID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
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

// headSeq returns the current head seq, or ErrNotFound
func (r *PostgresVersionStore) headSeq(ctx context.Context, key models.DocumentKey) (int64, error) {
	query := fmt.Sprintf(`SELECT head_seq FROM %s WHERE author = $1 AND id = $2`, r.tables.Documents)

	var seq int64
	executor := postgres.GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, key.Author, key.ID).Scan(&seq); err != nil {
		if postgres.IsPgNoRowsError(err) {
			return 0, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
		}
		return 0, &domain.StorageError{Op: "get head seq", Err: err}
	}
	return seq, nil
}

// prefixed qualifies each column in a comma separated list
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i := range parts {
		parts[i] = prefix + parts[i]
	}
	return strings.Join(parts, ", ")
}

func scanVersion(row pgx.Row) (*models.Version, error) {
	var (
		v          models.Version
		blob       []byte
		forkedFrom *string
	)
	if err := row.Scan(&v.Seq, &v.ID, &v.ParentID, &v.Message, &blob, &v.ContentHash, &forkedFrom, &v.CreatedAt); err != nil {
		return nil, err
	}

	snapshot, err := codec.DecodeSnapshot(blob)
	if err != nil {
		return nil, err
	}
	v.Snapshot = snapshot

	if v.ForkedFrom, err = codec.DecodeForkRef(forkedFrom); err != nil {
		return nil, err
	}
	return &v, nil
}
