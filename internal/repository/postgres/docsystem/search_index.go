package docsystem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	"scrapbook/internal/repository/codec"
	"scrapbook/internal/repository/postgres"
)

// PostgresSearchIndex implements the SearchIndex interface with postgres full-text search
type PostgresSearchIndex struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewSearchIndex creates a new search index
func NewSearchIndex(config *postgres.RepositoryConfig) docsysRepo.SearchIndex {
	return &PostgresSearchIndex{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const indexColumns = "author, id, kind, title, content, version_id, version_seq, forked_from, deleted, updated_at"

// Create adds a new entry
func (r *PostgresSearchIndex) Create(ctx context.Context, indexKey string, doc *models.IndexedDocument) error {
	forkedFrom, err := codec.EncodeForkRef(doc.ForkedFrom)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (index_key, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.tables.SearchIndex, indexColumns)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query, indexKey,
		doc.Author, doc.ID, string(doc.Kind), doc.Title, doc.Content,
		doc.VersionID, doc.VersionSeq, forkedFrom, doc.Deleted, doc.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgDuplicateError(err) {
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
func (r *PostgresSearchIndex) Update(ctx context.Context, indexKey string, doc *models.IndexedDocument) error {
	forkedFrom, err := codec.EncodeForkRef(doc.ForkedFrom)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET author = $2, id = $3, kind = $4, title = $5, content = $6,
		    version_id = $7, version_seq = $8, forked_from = $9, deleted = $10, updated_at = $11
		WHERE index_key = $1 AND version_seq <= $8
	`, r.tables.SearchIndex)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, indexKey,
		doc.Author, doc.ID, string(doc.Kind), doc.Title, doc.Content,
		doc.VersionID, doc.VersionSeq, forkedFrom, doc.Deleted, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update index entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either absent or newer than doc
		if _, err := r.Get(ctx, indexKey); err != nil {
			return err
		}
		r.logger.Debug("skipped stale index update", "index_key", indexKey, "version_seq", doc.VersionSeq)
	}
	return nil
}

// Get returns the entry stored under indexKey
func (r *PostgresSearchIndex) Get(ctx context.Context, indexKey string) (*models.IndexedDocument, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE index_key = $1
	`, indexColumns, r.tables.SearchIndex)

	var (
		doc        models.IndexedDocument
		kind       string
		forkedFrom *string
	)
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, indexKey).Scan(
		&doc.Author, &doc.ID, &kind, &doc.Title, &doc.Content,
		&doc.VersionID, &doc.VersionSeq, &forkedFrom, &doc.Deleted, &doc.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("index entry %s: %w", indexKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get index entry: %w", err)
	}
	doc.Kind = models.Kind(kind)
	if doc.ForkedFrom, err = codec.DecodeForkRef(forkedFrom); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Search runs a ranked full-text query over live entries.
//
// PostgreSQL full-text search components:
//   - to_tsvector(language, field): converts a field to searchable tokens
//   - websearch_to_tsquery(language, query): Google-like query syntax (OR, NOT, phrases)
//   - ts_rank(): relevance, title matches weighted 2x
func (r *PostgresSearchIndex) Search(ctx context.Context, opts *models.SearchOptions) (*models.SearchResults, error) {
	whereClause, rankExpression := r.searchClauses(opts)

	baseQuery := fmt.Sprintf(`
		SELECT %s, (%s) AS rank_score
		FROM %s
		WHERE deleted = FALSE
		  AND (%s)
	`, indexColumns, rankExpression, r.tables.SearchIndex, whereClause)
	countQuery := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s
		WHERE deleted = FALSE
		  AND (%s)
	`, r.tables.SearchIndex, whereClause)

	args := []interface{}{opts.Language, opts.Query}
	paramIndex := 3

	if opts.Author != "" {
		filter := fmt.Sprintf(` AND author = $%d`, paramIndex)
		baseQuery += filter
		countQuery += filter
		args = append(args, opts.Author)
		paramIndex++
	}
	countArgs := append([]interface{}(nil), args...)

	baseQuery += ` ORDER BY rank_score DESC, index_key ASC`
	baseQuery += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, opts.Limit, opts.Offset)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search query failed: %w", err)
	}
	defer rows.Close()

	var searchResults []models.SearchResult
	for rows.Next() {
		var (
			doc        models.IndexedDocument
			kind       string
			forkedFrom *string
			score      float64
		)
		err := rows.Scan(
			&doc.Author, &doc.ID, &kind, &doc.Title, &doc.Content,
			&doc.VersionID, &doc.VersionSeq, &forkedFrom, &doc.Deleted, &doc.UpdatedAt,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		doc.Kind = models.Kind(kind)
		if doc.ForkedFrom, err = codec.DecodeForkRef(forkedFrom); err != nil {
			return nil, err
		}
		searchResults = append(searchResults, models.SearchResult{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	var total int
	if err := executor.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}

	return models.NewSearchResults(searchResults, total, opts), nil
}

// searchClauses builds the match condition (fields OR'd) and the summed rank expression
func (r *PostgresSearchIndex) searchClauses(opts *models.SearchOptions) (string, string) {
	var searchConditions []string
	var rankExpressions []string

	for _, field := range opts.Fields {
		switch field {
		case models.SearchFieldTitle:
			searchConditions = append(searchConditions,
				"to_tsvector($1, title) @@ websearch_to_tsquery($1, $2)")
			rankExpressions = append(rankExpressions,
				"ts_rank(to_tsvector($1, title), websearch_to_tsquery($1, $2)) * 2.0")
		case models.SearchFieldContent:
			searchConditions = append(searchConditions,
				"to_tsvector($1, content) @@ websearch_to_tsquery($1, $2)")
			rankExpressions = append(rankExpressions,
				"ts_rank(to_tsvector($1, content), websearch_to_tsquery($1, $2))")
		}
	}

	return strings.Join(searchConditions, " OR "), strings.Join(rankExpressions, " + ")
}
