package docsystem

import (
	"context"
	"errors"
	"testing"
	"time"

	"scrapbook/internal/domain"
	docsys "scrapbook/internal/domain/models/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
	"scrapbook/internal/repository/memory"
)

func TestIndexSynchronizer_SyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{})

	created := f.createScrap(t, "amy", "indexed text")
	doc, _ := f.repo.Reconstitute(ctx, "amy", created.ID)

	for i := 0; i < 3; i++ {
		if err := f.sync.Sync(ctx, doc, doc.Head); err != nil {
			t.Fatalf("Sync #%d error = %v", i, err)
		}
	}

	if n := f.index.Len(); n != 1 {
		t.Fatalf("index entries = %d, want 1", n)
	}
	entry, err := f.index.Get(ctx, doc.Key().IndexKey())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Content != "indexed text" || entry.VersionID != doc.HeadID() || entry.Author != "amy" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestIndexSynchronizer_StaleVersionDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{})

	created := f.createScrap(t, "amy", "v1")
	first, _ := f.repo.Reconstitute(ctx, "amy", created.ID)
	f.update(t, "amy", created.ID, "v2")
	second, _ := f.repo.Reconstitute(ctx, "amy", created.ID)

	if err := f.sync.Sync(ctx, second, second.Head); err != nil {
		t.Fatalf("Sync(v2) error = %v", err)
	}
	if err := f.sync.Sync(ctx, first, first.Head); err != nil {
		t.Fatalf("Sync(v1) error = %v", err)
	}

	entry, _ := f.index.Get(ctx, created.Author+"-"+created.ID)
	if entry.VersionSeq != 2 || entry.Content != "v2" {
		t.Errorf("entry regressed to seq %d %q", entry.VersionSeq, entry.Content)
	}
}

func TestIndexSynchronizer_RetriesThenAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond, RetryMaxDelay: time.Second})

	created := f.createScrap(t, "amy", "text")
	doc, _ := f.repo.Reconstitute(ctx, "amy", created.ID)

	f.index.FailNext(3, errors.New("index unavailable"))
	err := f.sync.Sync(ctx, doc, doc.Head)

	var idxErr *domain.IndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("got %v, want *domain.IndexError", err)
	}
	if idxErr.Attempts != 3 || idxErr.Seq != 1 || idxErr.Key != "amy-"+created.ID {
		t.Errorf("index error = %+v", idxErr)
	}
	if f.alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1", f.alerts.count())
	}
	wantDelays := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(f.delays) != len(wantDelays) || f.delays[0] != wantDelays[0] || f.delays[1] != wantDelays[1] {
		t.Errorf("delays = %v, want %v", f.delays, wantDelays)
	}

	failures := f.sync.Failures()
	if len(failures) != 1 || failures[0].Key != doc.Key() || failures[0].Attempts != 3 {
		t.Fatalf("failures = %+v", failures)
	}

	if err := f.sync.Resync(ctx); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if len(f.sync.Failures()) != 0 {
		t.Errorf("failures remain after resync: %+v", f.sync.Failures())
	}
	if _, err := f.index.Get(ctx, doc.Key().IndexKey()); err != nil {
		t.Errorf("entry missing after resync: %v", err)
	}
}

func TestIndexSynchronizer_RecoversWithinRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{MaxAttempts: 4, RetryBackoff: time.Millisecond})

	created := f.createScrap(t, "amy", "text")
	doc, _ := f.repo.Reconstitute(ctx, "amy", created.ID)

	f.index.FailNext(2, errors.New("blip"))
	if err := f.sync.Sync(ctx, doc, doc.Head); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if f.alerts.count() != 0 || len(f.sync.Failures()) != 0 {
		t.Errorf("recovered sync alerted: alerts=%d failures=%d", f.alerts.count(), len(f.sync.Failures()))
	}
}

func TestIndexSynchronizer_QueueOverflowIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{QueueSize: 1})

	f.createScrap(t, "amy", "first")
	second := f.createScrap(t, "amy", "second")

	if f.sync.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", f.sync.Pending())
	}
	failures := f.sync.Failures()
	if len(failures) != 1 || failures[0].Key.ID != second.ID || failures[0].Attempts != 0 {
		t.Fatalf("failures = %+v", failures)
	}
	if f.alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1", f.alerts.count())
	}

	f.sync.Close()
	if err := f.sync.Resync(ctx); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if n := f.index.Len(); n != 2 {
		t.Errorf("index entries = %d, want 2", n)
	}

	// Enqueue after Close is recorded, not dropped
	doc, _ := f.repo.Reconstitute(ctx, "amy", second.ID)
	f.sync.Enqueue(doc, doc.Head)
	if len(f.sync.Failures()) != 1 {
		t.Errorf("enqueue after close not recorded")
	}
}

func TestIndexSynchronizer_WorkersDrainOnClose(t *testing.T) {
	f := newFixture(t, SyncConfig{Workers: 3, QueueSize: 32})
	f.sync.Start(context.Background())

	for i := 0; i < 10; i++ {
		f.createScrap(t, "amy", "text")
	}
	f.sync.Close()

	if n := f.index.Len(); n != 10 {
		t.Errorf("index entries = %d, want 10", n)
	}
}

func TestIndexSynchronizer_BookAndTombstone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{})

	scrap := f.createScrap(t, "amy", "chapter")
	book, err := f.svc.CreateDocument(ctx, as("amy"), &docsysSvc.CreateDocumentRequest{
		Kind:     docsys.KindBook,
		Title:    "Book",
		Children: []string{scrap.ID},
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := f.svc.DeleteDocument(ctx, as("amy"), "amy", scrap.ID); err != nil {
		t.Fatalf("delete scrap: %v", err)
	}
	f.sync.Close()

	// Book whose child is gone is still indexed by title
	entry, err := f.index.Get(ctx, "amy-"+book.ID)
	if err != nil {
		t.Fatalf("Get(book) error = %v", err)
	}
	if entry.Title != "Book" {
		t.Errorf("book entry = %+v", entry)
	}

	tomb, err := f.index.Get(ctx, "amy-"+scrap.ID)
	if err != nil {
		t.Fatalf("Get(scrap) error = %v", err)
	}
	if !tomb.Deleted || tomb.VersionSeq != 2 {
		t.Errorf("tombstone entry = %+v", tomb)
	}

	results, err := f.svc.Search(ctx, &docsys.SearchOptions{Query: "chapter"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results.Results {
		if r.Document.ID == scrap.ID {
			t.Errorf("deleted scrap returned by search")
		}
	}
}

func TestIndexSynchronizer_Backoff(t *testing.T) {
	s := NewIndexSynchronizer(nil, nil, SyncConfig{RetryBackoff: 100 * time.Millisecond, RetryMaxDelay: time.Second}, nil, discardLogger())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{64, time.Second},
	}
	for _, tt := range tests {
		if got := s.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIndexSynchronizer_RestartCatchesUpFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{})

	// Committed, queued, never indexed: the process stops here
	created := f.createScrap(t, "amy", "v1")
	f.update(t, "amy", created.ID, "v2")
	if f.sync.Pending() != 2 || f.index.Len() != 0 {
		t.Fatalf("setup: pending=%d entries=%d", f.sync.Pending(), f.index.Len())
	}

	tests := []struct {
		name string
		run  func(s *IndexSynchronizer) error
	}{
		{"resync", func(s *IndexSynchronizer) error { return s.Resync(ctx) }},
		{"start", func(s *IndexSynchronizer) error {
			s.Start(ctx)
			s.Close()
			return nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := memory.NewSearchIndex()
			restarted := NewIndexSynchronizer(f.store, index, SyncConfig{}, &recordingAlerter{}, discardLogger())
			t.Cleanup(restarted.Close)

			if err := tt.run(restarted); err != nil {
				t.Fatalf("error = %v", err)
			}
			entry, err := index.Get(ctx, "amy-"+created.ID)
			if err != nil {
				t.Fatalf("committed version never indexed: %v", err)
			}
			if entry.VersionSeq != 2 || entry.Content != "v2" {
				t.Errorf("entry = seq %d %q, want seq 2 %q", entry.VersionSeq, entry.Content, "v2")
			}
		})
	}
}

func TestIndexSynchronizer_ReconcileOnlySyncsLaggingEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, SyncConfig{})

	current := f.createScrap(t, "amy", "current")
	behind := f.createScrap(t, "bob", "old")
	missing := f.createScrap(t, "carol", "never indexed")
	f.sync.Close()

	f.update(t, "bob", behind.ID, "new") // closed synchronizer records it as a failure
	f.index.Delete("carol-" + missing.ID)

	n, err := f.sync.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n != 2 {
		t.Errorf("synced = %d, want 2", n)
	}
	if entry, _ := f.index.Get(ctx, "bob-"+behind.ID); entry == nil || entry.Content != "new" {
		t.Errorf("bob entry = %+v", entry)
	}
	if _, err := f.index.Get(ctx, "carol-"+missing.ID); err != nil {
		t.Errorf("carol entry missing: %v", err)
	}
	if entry, _ := f.index.Get(ctx, "amy-"+current.ID); entry == nil || entry.VersionSeq != 1 {
		t.Errorf("amy entry = %+v", entry)
	}
	if len(f.sync.Failures()) != 0 {
		t.Errorf("failures remain: %+v", f.sync.Failures())
	}

	n, err = f.sync.Reconcile(ctx)
	if err != nil || n != 0 {
		t.Errorf("second Reconcile() = %d, %v; want 0, nil", n, err)
	}
}
