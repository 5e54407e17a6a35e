package docsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scrapbook/internal/config"
	"scrapbook/internal/domain"
	"scrapbook/internal/domain/models"
	docsys "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	"scrapbook/internal/domain/services"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
	"scrapbook/internal/render"
	"scrapbook/internal/utils"
)

// documentService implements the DocumentService interface
type documentService struct {
	repo     docsysSvc.DocumentRepository
	ledger   docsysSvc.VersionLedger
	forks    docsysSvc.ForkEngine
	guard    services.AccessGuard
	index    docsysRepo.SearchIndex
	renderer render.Renderer
	logger   *slog.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(
	repo docsysSvc.DocumentRepository,
	ledger docsysSvc.VersionLedger,
	forks docsysSvc.ForkEngine,
	guard services.AccessGuard,
	index docsysRepo.SearchIndex,
	renderer render.Renderer,
	logger *slog.Logger,
) docsysSvc.DocumentService {
	return &documentService{
		repo:     repo,
		ledger:   ledger,
		forks:    forks,
		guard:    guard,
		index:    index,
		renderer: renderer,
		logger:   logger,
	}
}

// GetDocument returns the live document with its text
func (s *documentService) GetDocument(ctx context.Context, author, id string) (*docsysSvc.DocumentView, error) {
	doc, err := s.live(ctx, author, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, doc)
}

// ListByAuthor returns the author's live documents. Book text that cannot be
// assembled is left empty rather than failing the listing.
func (s *documentService) ListByAuthor(ctx context.Context, author string) ([]docsysSvc.DocumentView, error) {
	docs, err := s.repo.ListByAuthor(ctx, author)
	if err != nil {
		return nil, err
	}

	views := make([]docsysSvc.DocumentView, 0, len(docs))
	for i := range docs {
		view, err := s.view(ctx, &docs[i])
		if err != nil {
			if !errors.Is(err, domain.ErrDependencyMissing) {
				return nil, err
			}
			s.logger.Warn("listing book with missing scrap", "key", docs[i].Key().String(), "error", err)
			view = newView(&docs[i], "")
		}
		views = append(views, *view)
	}
	return views, nil
}

// CreateDocument creates a scrap or book owned by the caller
func (s *documentService) CreateDocument(ctx context.Context, creds models.Credentials, req *docsysSvc.CreateDocumentRequest) (*docsysSvc.DocumentView, error) {
	identity, err := s.guard.AuthorizeCreate(ctx, creds, req.Author)
	if err != nil {
		return nil, err
	}

	kind := req.Kind
	if kind == "" {
		kind = docsys.KindScrap
	}

	doc, err := s.repo.Create(ctx, &docsysSvc.CreateRequest{
		Author:   identity,
		Kind:     kind,
		Title:    req.Title,
		Content:  req.Text,
		Children: parseChildren(req.Children, identity),
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, doc)
}

// UpdateDocument commits new content on top of the observed head
func (s *documentService) UpdateDocument(ctx context.Context, creds models.Credentials, author, id string, req *docsysSvc.UpdateDocumentRequest) (*docsysSvc.DocumentView, error) {
	// Ownership is checked against the key before storage is touched
	if _, err := s.guard.AuthorizeUpdate(ctx, creds, &docsys.Document{Author: author, ID: id}); err != nil {
		return nil, err
	}

	doc, err := s.live(ctx, author, id)
	if err != nil {
		return nil, err
	}

	if req.BaseVersion != "" {
		base, err := s.ledger.Version(ctx, doc, req.BaseVersion)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown base_version %q", req.BaseVersion)}
			}
			return nil, err
		}
		doc.Head = base
	}

	commit := &docsysSvc.CommitRequest{
		Content: req.Content,
		Title:   req.Title,
		Message: req.Message,
	}
	if req.Children != nil {
		commit.Children = parseChildren(req.Children, author)
	}

	v, err := s.ledger.Commit(ctx, doc, commit)
	if err != nil {
		return nil, err
	}

	updated := docsys.FromVersions(doc.Key(), v, nil)
	updated.CreatedAt = doc.CreatedAt
	updated.ForkedFrom = doc.ForkedFrom
	return s.view(ctx, updated)
}

// DeleteDocument commits a tombstone version. History stays readable.
func (s *documentService) DeleteDocument(ctx context.Context, creds models.Credentials, author, id string) error {
	if _, err := s.guard.AuthorizeUpdate(ctx, creds, &docsys.Document{Author: author, ID: id}); err != nil {
		return err
	}

	doc, err := s.live(ctx, author, id)
	if err != nil {
		return err
	}
	_, err = s.ledger.Commit(ctx, doc, &docsysSvc.CommitRequest{Tombstone: true})
	return err
}

// ForkDocument forks the current head into a document owned by the caller
func (s *documentService) ForkDocument(ctx context.Context, creds models.Credentials, author, id string) (*docsysSvc.DocumentView, error) {
	identity, err := s.guard.AuthorizeFork(ctx, creds)
	if err != nil {
		return nil, err
	}

	doc, err := s.live(ctx, author, id)
	if err != nil {
		return nil, err
	}
	fork, err := s.forks.Fork(ctx, doc, identity)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, fork)
}

// History returns the full history, including for deleted documents
func (s *documentService) History(ctx context.Context, author, id string) ([]docsys.HistoryEntry, error) {
	doc, err := s.repo.Reconstitute(ctx, author, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, doc)
}

// HistoryPage returns one page of history. limit <= 0 uses the default page size.
func (s *documentService) HistoryPage(ctx context.Context, author, id string, before int64, limit int) (*docsys.HistoryPage, error) {
	if limit <= 0 {
		limit = config.DefaultHistoryPageSize
	}
	if limit > config.MaxHistoryPageSize {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("limit cannot exceed %d", config.MaxHistoryPageSize)}
	}

	doc, err := s.repo.Reconstitute(ctx, author, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.HistoryPage(ctx, doc, before, limit)
}

// GetVersion returns one version by ULID or sequence number
func (s *documentService) GetVersion(ctx context.Context, author, id, ref string) (*docsys.Version, error) {
	doc, err := s.repo.Reconstitute(ctx, author, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.Version(ctx, doc, ref)
}

// Diff compares two versions. to defaults to the head, from to to's parent.
func (s *documentService) Diff(ctx context.Context, author, id, from, to string) (*docsysSvc.DiffResult, error) {
	doc, err := s.repo.Reconstitute(ctx, author, id)
	if err != nil {
		return nil, err
	}

	toVersion := doc.Head
	if to != "" {
		if toVersion, err = s.ledger.Version(ctx, doc, to); err != nil {
			return nil, err
		}
	}

	var fromVersion *docsys.Version
	switch {
	case from != "":
		if fromVersion, err = s.ledger.Version(ctx, doc, from); err != nil {
			return nil, err
		}
	case toVersion.Seq > 1:
		if fromVersion, err = s.ledger.Version(ctx, doc, fmt.Sprint(toVersion.Seq-1)); err != nil {
			return nil, err
		}
	}

	return diffVersions(fromVersion, toVersion), nil
}

// Render produces the document artifact from its text and metadata
func (s *documentService) Render(ctx context.Context, author, id string) (*docsysSvc.RenderResult, error) {
	doc, err := s.live(ctx, author, id)
	if err != nil {
		return nil, err
	}
	text, err := s.repo.GetText(ctx, doc)
	if err != nil {
		return nil, err
	}

	title := doc.Title
	if title == "" {
		title = doc.ID
	}
	out, err := s.renderer.Render(ctx, render.Artifact{
		Kind:   doc.Kind,
		ID:     doc.ID,
		Title:  title,
		Author: doc.Author,
		Body:   text,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", doc.Key(), err)
	}
	return &docsysSvc.RenderResult{Filename: out.Filename, ContentType: out.ContentType, Body: out.Body}, nil
}

// Search queries the index
func (s *documentService) Search(ctx context.Context, opts *docsys.SearchOptions) (*docsys.SearchResults, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}
	return s.index.Search(ctx, opts)
}

// live reconstitutes a document and hides tombstones
func (s *documentService) live(ctx context.Context, author, id string) (*docsys.Document, error) {
	doc, err := s.repo.Reconstitute(ctx, author, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("document %s has been deleted", doc.Key())}
	}
	return doc, nil
}

func (s *documentService) view(ctx context.Context, doc *docsys.Document) (*docsysSvc.DocumentView, error) {
	text, err := s.repo.GetText(ctx, doc)
	if err != nil {
		return nil, err
	}
	return newView(doc, text), nil
}

func newView(doc *docsys.Document, text string) *docsysSvc.DocumentView {
	view := &docsysSvc.DocumentView{Document: doc, Text: text, WordCount: utils.CountWords(text)}
	if doc.Head != nil {
		view.HeadVersionID = doc.Head.ID
		view.HeadSeq = doc.Head.Seq
		view.ContentHash = doc.Head.ContentHash
	}
	return view
}

// parseChildren resolves "author/id" or bare ids against defaultAuthor
func parseChildren(refs []string, defaultAuthor string) []docsys.DocumentKey {
	if refs == nil {
		return nil
	}
	keys := make([]docsys.DocumentKey, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, docsys.ParseDocumentKey(ref, defaultAuthor))
	}
	return keys
}
