package docsystem

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scrapbook/internal/domain"
	"scrapbook/internal/domain/models"
	docsys "scrapbook/internal/domain/models/docsystem"
	"scrapbook/internal/domain/services"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
	"scrapbook/internal/render"
	"scrapbook/internal/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingAlerter collects alerts
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*domain.IndexError
}

func (a *recordingAlerter) Alert(_ context.Context, err *domain.IndexError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, err)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// tokenGuard treats the bearer token as the verified identity
type tokenGuard struct{}

func (tokenGuard) identity(creds models.Credentials) (string, error) {
	if creds.Empty() {
		return "", &domain.ForbiddenError{Reason: domain.ReasonUnauthenticated, Message: "could not verify identity"}
	}
	return creds.BearerToken, nil
}

func (g tokenGuard) Verify(_ context.Context, creds models.Credentials) services.VerifyResult {
	id, err := g.identity(creds)
	return services.VerifyResult{Success: err == nil, Identity: id}
}

func (g tokenGuard) AuthorizeCreate(_ context.Context, creds models.Credentials, author string) (string, error) {
	id, err := g.identity(creds)
	if err != nil {
		return "", err
	}
	if author != "" && author != id {
		return "", &domain.ForbiddenError{Reason: domain.ReasonNotOwner, Identity: id, Message: "cannot create for another author"}
	}
	return id, nil
}

func (g tokenGuard) AuthorizeUpdate(_ context.Context, creds models.Credentials, doc *docsys.Document) (string, error) {
	id, err := g.identity(creds)
	if err != nil {
		return "", err
	}
	if doc.Author != id {
		return "", &domain.ForbiddenError{Reason: domain.ReasonNotOwner, Identity: id, Message: "not your scrap"}
	}
	return id, nil
}

func (g tokenGuard) AuthorizeFork(_ context.Context, creds models.Credentials) (string, error) {
	return g.identity(creds)
}

type fixture struct {
	store  *memory.VersionStore
	index  *memory.SearchIndex
	sync   *IndexSynchronizer
	alerts *recordingAlerter
	delays []time.Duration
	repo   *Repository
	ledger *Ledger
	forks  *ForkEngine
	svc    docsysSvc.DocumentService
}

// newFixture wires the service on memory drivers. The synchronizer is not
// started; Close drains queued jobs inline.
func newFixture(t *testing.T, cfg SyncConfig) *fixture {
	t.Helper()
	logger := discardLogger()

	f := &fixture{
		store:  memory.NewVersionStore(),
		index:  memory.NewSearchIndex(),
		alerts: &recordingAlerter{},
	}
	f.sync = NewIndexSynchronizer(f.store, f.index, cfg, f.alerts, logger)
	f.sync.sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	t.Cleanup(f.sync.Close)

	f.repo = NewRepository(f.store, f.sync, logger)
	f.ledger = NewLedger(f.store, f.sync, logger)
	f.forks = NewForkEngine(f.store, f.repo, logger)

	renderer, err := render.New(render.EngineLatex, 0, logger)
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}
	f.svc = NewDocumentService(f.repo, f.ledger, f.forks, tokenGuard{}, f.index, renderer, logger)
	return f
}

func as(identity string) models.Credentials {
	return models.Credentials{BearerToken: identity}
}

func (f *fixture) createScrap(t *testing.T, author, text string) *docsysSvc.DocumentView {
	t.Helper()
	view, err := f.svc.CreateDocument(context.Background(), as(author), &docsysSvc.CreateDocumentRequest{Text: text})
	if err != nil {
		t.Fatalf("CreateDocument(%s) error = %v", author, err)
	}
	return view
}

func (f *fixture) update(t *testing.T, author, id, content string) *docsysSvc.DocumentView {
	t.Helper()
	view, err := f.svc.UpdateDocument(context.Background(), as(author), author, id, &docsysSvc.UpdateDocumentRequest{Content: content})
	if err != nil {
		t.Fatalf("UpdateDocument(%s/%s) error = %v", author, id, err)
	}
	return view
}
