package docsystem

import (
	"context"
	"fmt"
	"log/slog"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
)

// ForkEngine implements the ForkEngine interface.
//
// The fork's first version carries the provenance and is written by a single
// WriteVersion, so the new key is never visible without it.
type ForkEngine struct {
	store  docsysRepo.VersionStore
	repo   docsysSvc.DocumentRepository
	logger *slog.Logger
}

// NewForkEngine creates a new fork engine
func NewForkEngine(store docsysRepo.VersionStore, repo docsysSvc.DocumentRepository, logger *slog.Logger) *ForkEngine {
	return &ForkEngine{store: store, repo: repo, logger: logger}
}

var _ docsysSvc.ForkEngine = (*ForkEngine)(nil)

// Fork copies the head version observed by doc into a new document owned by newOwner
func (f *ForkEngine) Fork(ctx context.Context, doc *models.Document, newOwner string) (*models.Document, error) {
	key := doc.Key()
	if doc.Head == nil {
		return nil, &domain.ValidationError{Message: "document has no observed head version"}
	}

	// Re-read the exact version the caller observed; later commits do not leak into the fork
	source, err := f.store.Version(ctx, key, doc.HeadSeq())
	if err != nil {
		return nil, fmt.Errorf("read fork source %s: %w", key, err)
	}
	if source.Snapshot.Deleted {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("document %s has been deleted", key)}
	}

	fork, err := f.repo.Create(ctx, &docsysSvc.CreateRequest{
		Author:   newOwner,
		Kind:     source.Snapshot.Kind,
		Title:    source.Snapshot.Title,
		Content:  source.Snapshot.Content,
		Children: source.Snapshot.Children,
		ForkedFrom: &models.ForkRef{
			Author:    key.Author,
			ID:        key.ID,
			VersionID: source.ID,
			Seq:       source.Seq,
		},
		Message: "Forked from " + key.String(),
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("document forked",
		"source", key.String(),
		"source_version", source.ID,
		"fork", fork.Key().String(),
	)
	return fork, nil
}
