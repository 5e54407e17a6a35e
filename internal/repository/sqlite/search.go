package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	"scrapbook/internal/repository/codec"
)

// SearchIndex implements the SearchIndex interface with case-insensitive
// substring matching. Title hits score 2, content hits 1.
type SearchIndex struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

var _ docsysRepo.SearchIndex = (*SearchIndex)(nil)

const indexColumns = "author, id, kind, title, content, version_id, version_seq, forked_from, deleted, updated_at"

func indexArgs(indexKey string, doc *models.IndexedDocument) ([]any, error) {
	forkedFrom, err := codec.EncodeForkRef(doc.ForkedFrom)
	if err != nil {
		return nil, err
	}
	var forkedArg sql.NullString
	if forkedFrom != nil {
		forkedArg = sql.NullString{String: *forkedFrom, Valid: true}
	}
	return []any{
		indexKey, doc.Author, doc.ID, string(doc.Kind), doc.Title, doc.Content,
		doc.VersionID, doc.VersionSeq, forkedArg, doc.Deleted, toMillis(doc.UpdatedAt),
	}, nil
}

// Create adds a new entry
func (s *SearchIndex) Create(ctx context.Context, indexKey string, doc *models.IndexedDocument) error {
	args, err := indexArgs(indexKey, doc)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		"INSERT INTO search_index (index_key, "+indexColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		args...)
	if err != nil {
		if isConstraintError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("index entry %s already exists", indexKey),
				ResourceType: "index_entry",
				ResourceID:   indexKey,
			}
		}
		return fmt.Errorf("create index entry: %w", err)
	}
	return nil
}

// Update replaces an existing entry. Entries already at a newer version are left alone.
func (s *SearchIndex) Update(ctx context.Context, indexKey string, doc *models.IndexedDocument) error {
	args, err := indexArgs(indexKey, doc)
	if err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE search_index
SET author = ?2, id = ?3, kind = ?4, title = ?5, content = ?6,
    version_id = ?7, version_seq = ?8, forked_from = ?9, deleted = ?10, updated_at = ?11
WHERE index_key = ?1 AND version_seq <= ?8
`, args...)
	if err != nil {
		return fmt.Errorf("update index entry: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, indexKey); err != nil {
			return err
		}
		s.logger.Debug("skipped stale index update", "index_key", indexKey, "version_seq", doc.VersionSeq)
	}
	return nil
}

// Get returns the entry stored under indexKey
func (s *SearchIndex) Get(ctx context.Context, indexKey string) (*models.IndexedDocument, error) {
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+indexColumns+" FROM search_index WHERE index_key = ?", indexKey)
	doc, err := scanIndexed(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("index entry %s: %w", indexKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get index entry: %w", err)
	}
	return doc, nil
}

// Search returns live entries whose searched fields contain the query
func (s *SearchIndex) Search(ctx context.Context, opts *models.SearchOptions) (*models.SearchResults, error) {
	pattern := "%" + escapeLike(opts.Query) + "%"

	var scoreParts, matchParts []string
	if opts.Searches(models.SearchFieldTitle) {
		scoreParts = append(scoreParts, `(CASE WHEN title LIKE ?1 ESCAPE '\' THEN 2 ELSE 0 END)`)
		matchParts = append(matchParts, `title LIKE ?1 ESCAPE '\'`)
	}
	if opts.Searches(models.SearchFieldContent) {
		scoreParts = append(scoreParts, `(CASE WHEN content LIKE ?1 ESCAPE '\' THEN 1 ELSE 0 END)`)
		matchParts = append(matchParts, `content LIKE ?1 ESCAPE '\'`)
	}
	where := fmt.Sprintf("deleted = 0 AND (?2 = '' OR author = ?2) AND (%s)", strings.Join(matchParts, " OR "))

	var total int
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_index WHERE "+where, pattern, opts.Author).Scan(&total); err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}

	query := fmt.Sprintf(`
SELECT %s, (%s) AS score
FROM search_index
WHERE %s
ORDER BY score DESC, index_key ASC
LIMIT ?3 OFFSET ?4
`, indexColumns, strings.Join(scoreParts, " + "), where)

	rows, err := s.sqlDB.QueryContext(ctx, query, pattern, opts.Author, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var score float64
		doc, err := scanIndexed(func(dest ...any) error {
			return rows.Scan(append(dest, &score)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, models.SearchResult{Document: *doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	return models.NewSearchResults(results, total, opts), nil
}

func scanIndexed(scan func(dest ...any) error) (*models.IndexedDocument, error) {
	var (
		doc        models.IndexedDocument
		kind       string
		forkedFrom sql.NullString
		updatedAt  int64
	)
	if err := scan(&doc.Author, &doc.ID, &kind, &doc.Title, &doc.Content,
		&doc.VersionID, &doc.VersionSeq, &forkedFrom, &doc.Deleted, &updatedAt); err != nil {
		return nil, err
	}
	doc.Kind = models.Kind(kind)
	doc.UpdatedAt = fromMillis(updatedAt)
	if forkedFrom.Valid {
		ref, err := codec.DecodeForkRef(&forkedFrom.String)
		if err != nil {
			return nil, err
		}
		doc.ForkedFrom = ref
	}
	return &doc, nil
}

// escapeLike escapes LIKE wildcards so the query matches literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
