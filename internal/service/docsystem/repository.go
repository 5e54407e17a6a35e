package docsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
	"scrapbook/internal/repository/codec"
)

// Concurrent child/document loads per request
const loadConcurrency = 8

// Repository implements the DocumentRepository interface on a VersionStore
type Repository struct {
	store   docsysRepo.VersionStore
	indexer docsysSvc.IndexSynchronizer
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRepository creates a new document repository. indexer receives every
// initial version written by Create.
func NewRepository(store docsysRepo.VersionStore, indexer docsysSvc.IndexSynchronizer, logger *slog.Logger) *Repository {
	return &Repository{
		store:   store,
		indexer: indexer,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

var _ docsysSvc.DocumentRepository = (*Repository)(nil)

// Reconstitute loads the committed head of (author, id)
func (r *Repository) Reconstitute(ctx context.Context, author, id string) (*models.Document, error) {
	if author == "" || id == "" {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("document %s/%s not found", author, id)}
	}
	return reconstitute(ctx, r.store, models.DocumentKey{Author: author, ID: id})
}

func reconstitute(ctx context.Context, store docsysRepo.VersionStore, key models.DocumentKey) (*models.Document, error) {
	head, err := store.Head(ctx, key)
	if err != nil {
		return nil, err
	}

	first := head
	if head.Seq > 1 {
		if first, err = store.Version(ctx, key, 1); err != nil {
			return nil, fmt.Errorf("load first version of %s: %w", key, err)
		}
	}
	return models.FromVersions(key, head, first), nil
}

// ListByAuthor returns the author's live documents sorted by id.
// Unknown authors and authors without documents both yield an empty slice.
func (r *Repository) ListByAuthor(ctx context.Context, author string) ([]models.Document, error) {
	keys, err := r.store.ListKeys(ctx, author)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return []models.Document{}, nil
		}
		return nil, fmt.Errorf("list keys for %s: %w", author, err)
	}

	loaded := make([]*models.Document, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			doc, err := reconstitute(gctx, r.store, key)
			if err != nil {
				// Listed key without a committed head is not yet visible
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			}
			loaded[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]models.Document, 0, len(loaded))
	for _, doc := range loaded {
		if doc == nil || doc.Deleted {
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Create allocates a fresh id and writes the initial version
func (r *Repository) Create(ctx context.Context, req *docsysSvc.CreateRequest) (*models.Document, error) {
	if req.Kind == "" {
		req.Kind = models.KindScrap
	}
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	snapshot := models.Snapshot{Kind: req.Kind, Title: req.Title}
	if req.Kind == models.KindBook {
		if err := checkChildren(ctx, r.store, models.DocumentKey{Author: req.Author}, req.Children); err != nil {
			return nil, err
		}
		snapshot.Children = append([]models.DocumentKey(nil), req.Children...)
	} else {
		snapshot.Content = req.Content
	}

	message := req.Message
	if message == "" {
		message = "Created new " + string(req.Kind)
	}

	key := models.DocumentKey{Author: req.Author, ID: r.newID()}
	v := &models.Version{
		Seq:         1,
		ID:          ulid.Make().String(),
		Message:     message,
		Snapshot:    snapshot,
		ForkedFrom:  req.ForkedFrom,
		ContentHash: codec.ContentHash(snapshot),
		CreatedAt:   r.now(),
	}
	if err := r.store.WriteVersion(ctx, key, v); err != nil {
		return nil, err
	}

	doc := models.FromVersions(key, v, v)
	r.logger.Info("document created",
		"key", key.String(),
		"kind", req.Kind,
		"version_id", v.ID,
		"forked", req.ForkedFrom != nil,
	)

	r.indexer.Enqueue(doc, v)
	return doc, nil
}

// GetText returns a scrap's content or a book's scraps joined by blank lines
func (r *Repository) GetText(ctx context.Context, doc *models.Document) (string, error) {
	return composeText(ctx, r.store, doc)
}

// checkChildren verifies each book child exists, is live, and is a scrap
func checkChildren(ctx context.Context, store docsysRepo.VersionStore, parent models.DocumentKey, children []models.DocumentKey) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, child := range children {
		g.Go(func() error {
			head, err := store.Head(gctx, child)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return &domain.DependencyMissingError{Parent: parent.String(), Child: child.String()}
				}
				return err
			}
			if head.Snapshot.Deleted {
				return &domain.DependencyMissingError{Parent: parent.String(), Child: child.String()}
			}
			if head.Snapshot.Kind != models.KindScrap {
				return &domain.ValidationError{Message: fmt.Sprintf("book child %s is not a scrap", child)}
			}
			return nil
		})
	}
	return g.Wait()
}

// composeText is the read path shared by the repository and the index synchronizer.
// Children are loaded concurrently and joined in declared order. A missing or
// deleted child fails with *domain.DependencyMissingError.
func composeText(ctx context.Context, store docsysRepo.VersionStore, doc *models.Document) (string, error) {
	if doc.Kind != models.KindBook {
		return doc.Content, nil
	}

	parts := make([]string, len(doc.Children))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, child := range doc.Children {
		g.Go(func() error {
			head, err := store.Head(gctx, child)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return &domain.DependencyMissingError{Parent: doc.Key().String(), Child: child.String()}
				}
				return err
			}
			if head.Snapshot.Deleted {
				return &domain.DependencyMissingError{Parent: doc.Key().String(), Child: child.String()}
			}
			parts[i] = head.Snapshot.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(parts, "\n\n"), nil
}
