package docsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
	"scrapbook/internal/repository/codec"
)

const tracerName = "scrapbook/docsystem"

// Ledger implements the VersionLedger interface.
//
// Commits to one key are serialized by an in-process lock; the store's
// compare-and-swap on the head seq covers writers in other processes.
type Ledger struct {
	store   docsysRepo.VersionStore
	indexer docsysSvc.IndexSynchronizer
	locks   *keyLock
	tracer  trace.Tracer
	logger  *slog.Logger

	now func() time.Time
}

// NewLedger creates a new version ledger
func NewLedger(store docsysRepo.VersionStore, indexer docsysSvc.IndexSynchronizer, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		indexer: indexer,
		locks:   newKeyLock(),
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ docsysSvc.VersionLedger = (*Ledger)(nil)

// Commit appends the next version on top of the head the caller observed in doc
func (l *Ledger) Commit(ctx context.Context, doc *models.Document, req *docsysSvc.CommitRequest) (*models.Version, error) {
	key := doc.Key()
	ctx, span := l.tracer.Start(ctx, "docsystem.commit", trace.WithAttributes(
		attribute.String("document.key", key.String()),
		attribute.Int64("document.observed_seq", doc.HeadSeq()),
	))
	defer span.End()

	v, err := l.commit(ctx, doc, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("version.seq", v.Seq), attribute.String("version.id", v.ID))
	return v, nil
}

func (l *Ledger) commit(ctx context.Context, doc *models.Document, req *docsysSvc.CommitRequest) (*models.Version, error) {
	if doc.Head == nil {
		return nil, &domain.ValidationError{Message: "document has no observed head version"}
	}
	if err := validateCommitRequest(doc, req); err != nil {
		return nil, err
	}

	key := doc.Key()
	unlock := l.locks.Lock(key)
	defer unlock()

	// Nothing is written once the caller has gone away
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head, err := l.store.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	if head.Seq != doc.HeadSeq() {
		return nil, domain.NewHeadConflict(key.String(), doc.HeadSeq(), head.Seq)
	}
	if head.Snapshot.Deleted {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("document %s has been deleted", key)}
	}

	// Children are checked under the book's lock only. A child tombstoned after
	// this check is reported by GetText as a missing dependency.
	if doc.Kind == models.KindBook && len(req.Children) > 0 && !req.Tombstone {
		if err := checkChildren(ctx, l.store, key, req.Children); err != nil {
			return nil, err
		}
	}

	snapshot := head.Snapshot
	snapshot.Children = append([]models.DocumentKey(nil), head.Snapshot.Children...)
	if req.Tombstone {
		snapshot.Deleted = true
	} else {
		if snapshot.Kind == models.KindScrap {
			snapshot.Content = req.Content
		}
		if req.Title != nil {
			snapshot.Title = *req.Title
		}
		if req.Children != nil {
			snapshot.Children = append([]models.DocumentKey(nil), req.Children...)
		}
	}

	message := req.Message
	if message == "" {
		message = defaultCommitMessage(snapshot, req.Tombstone)
	}

	v := &models.Version{
		Seq:         head.Seq + 1,
		ID:          ulid.Make().String(),
		ParentID:    head.ID,
		Message:     message,
		Snapshot:    snapshot,
		ContentHash: codec.ContentHash(snapshot),
		CreatedAt:   l.now(),
	}
	if err := l.store.WriteVersion(ctx, key, v); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			l.logger.Warn("commit lost head race", "key", key.String(), "observed_seq", head.Seq)
		}
		return nil, err
	}

	l.logger.Info("version committed",
		"key", key.String(),
		"seq", v.Seq,
		"version_id", v.ID,
		"parent_id", v.ParentID,
		"tombstone", req.Tombstone,
	)

	committed := models.FromVersions(key, v, nil)
	committed.CreatedAt = doc.CreatedAt
	committed.ForkedFrom = doc.ForkedFrom
	l.indexer.Enqueue(committed, v)
	return v, nil
}

func defaultCommitMessage(s models.Snapshot, tombstone bool) string {
	if tombstone {
		return "Deleted"
	}
	return "Updated " + string(s.Kind)
}

// History returns every version newest-first. The result is unbounded.
func (l *Ledger) History(ctx context.Context, doc *models.Document) ([]models.HistoryEntry, error) {
	versions, err := l.store.Versions(ctx, doc.Key(), 0, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]models.HistoryEntry, len(versions))
	for i := range versions {
		entries[i] = versions[i].Entry()
	}
	return entries, nil
}

// HistoryPage returns up to limit entries with seq below before (0 starts at head)
func (l *Ledger) HistoryPage(ctx context.Context, doc *models.Document, before int64, limit int) (*models.HistoryPage, error) {
	if limit <= 0 {
		return nil, &domain.ValidationError{Message: "limit must be positive"}
	}
	if before < 0 {
		return nil, &domain.ValidationError{Message: "before cannot be negative"}
	}

	versions, err := l.store.Versions(ctx, doc.Key(), before, limit)
	if err != nil {
		return nil, err
	}

	page := &models.HistoryPage{Entries: make([]models.HistoryEntry, len(versions))}
	for i := range versions {
		page.Entries[i] = versions[i].Entry()
	}
	if n := len(versions); n == limit && versions[n-1].Seq > 1 {
		page.NextBefore = versions[n-1].Seq
	}
	return page, nil
}

// Version resolves ref as a version ULID or a sequence number
func (l *Ledger) Version(ctx context.Context, doc *models.Document, ref string) (*models.Version, error) {
	key := doc.Key()
	if seq, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return l.store.Version(ctx, key, seq)
	}

	if _, err := ulid.ParseStrict(ref); err != nil {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("invalid version reference %q", ref)}
	}
	if doc.Head != nil && doc.Head.ID == ref {
		return doc.Head, nil
	}

	versions, err := l.store.Versions(ctx, key, 0, 0)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].ID == ref {
			return &versions[i], nil
		}
	}
	return nil, &domain.NotFoundError{Message: fmt.Sprintf("version %s of %s not found", ref, key)}
}
