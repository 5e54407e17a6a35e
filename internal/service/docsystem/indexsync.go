package docsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
)

// SyncConfig tunes the index synchronizer
type SyncConfig struct {
	Workers       int
	QueueSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration // Delay after the first failed attempt, doubled per attempt
	RetryMaxDelay time.Duration
}

// DefaultSyncConfig returns production defaults
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Workers:       2,
		QueueSize:     256,
		MaxAttempts:   5,
		RetryBackoff:  200 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
	}
}

// Alerter is the operational path for syncs that exhausted their retries
type Alerter interface {
	Alert(ctx context.Context, err *domain.IndexError)
}

// LogAlerter reports index failures at error level
type LogAlerter struct {
	Logger *slog.Logger
}

// Alert logs the failure
func (a *LogAlerter) Alert(ctx context.Context, err *domain.IndexError) {
	a.Logger.ErrorContext(ctx, "search index out of sync",
		"index_key", err.Key,
		"seq", err.Seq,
		"attempts", err.Attempts,
		"error", err.Err,
	)
}

// SyncFailure is an outstanding version the index has not absorbed
type SyncFailure struct {
	Key       models.DocumentKey `json:"key"`
	Seq       int64              `json:"seq"`
	VersionID string             `json:"version_id"`
	Attempts  int                `json:"attempts"`
	Error     string             `json:"error"`
	FailedAt  time.Time          `json:"failed_at"`
}

type syncJob struct {
	doc *models.Document
	v   *models.Version
}

// IndexSynchronizer implements the IndexSynchronizer interface.
//
// Storage is the source of truth. Sync failures never reach the committing
// request; after MaxAttempts they are alerted and kept in a failure ledger
// until a later sync of the same key or Resync succeeds.
type IndexSynchronizer struct {
	store   docsysRepo.VersionStore
	index   docsysRepo.SearchIndex
	cfg     SyncConfig
	alerter Alerter
	tracer  trace.Tracer
	logger  *slog.Logger

	queue   chan syncJob
	mu      sync.RWMutex // guards closed and queue sends
	closed  bool
	started bool
	wg      sync.WaitGroup

	failMu   sync.Mutex
	failures map[models.DocumentKey]SyncFailure

	sleep func(ctx context.Context, d time.Duration) error
}

// NewIndexSynchronizer creates a synchronizer. Call Start to run the workers.
func NewIndexSynchronizer(
	store docsysRepo.VersionStore,
	index docsysRepo.SearchIndex,
	cfg SyncConfig,
	alerter Alerter,
	logger *slog.Logger,
) *IndexSynchronizer {
	defaults := DefaultSyncConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if alerter == nil {
		alerter = &LogAlerter{Logger: logger}
	}

	return &IndexSynchronizer{
		store:    store,
		index:    index,
		cfg:      cfg,
		alerter:  alerter,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
		queue:    make(chan syncJob, cfg.QueueSize),
		failures: make(map[models.DocumentKey]SyncFailure),
		sleep:    sleepContext,
	}
}

var _ docsysSvc.IndexSynchronizer = (*IndexSynchronizer)(nil)

// reconcileBatch is the number of heads read per page during Reconcile
const reconcileBatch = 200

// Start launches the workers and a one-off Reconcile that catches up on
// versions committed by a previous process. Workers stop when Close closes the queue.
func (s *IndexSynchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for job := range s.queue {
				_ = s.Sync(ctx, job.doc, job.v)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Reconcile(ctx); err != nil {
			s.logger.Error("index reconcile failed", "error", err)
		}
	}()
	s.logger.Info("index synchronizer started", "workers", s.cfg.Workers, "queue_size", s.cfg.QueueSize)
}

// Enqueue hands a committed version to the workers without blocking.
// A full or closed queue is recorded as a failure.
func (s *IndexSynchronizer) Enqueue(doc *models.Document, v *models.Version) {
	job := syncJob{doc: doc, v: v}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.fail(context.Background(), job, 0, errors.New("synchronizer closed"))
		return
	}
	select {
	case s.queue <- job:
	default:
		s.fail(context.Background(), job, 0, fmt.Errorf("sync queue full (%d)", s.cfg.QueueSize))
	}
}

// Pending returns the number of queued jobs
func (s *IndexSynchronizer) Pending() int {
	return len(s.queue)
}

// Close stops accepting jobs and waits until the queue is drained
func (s *IndexSynchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	started := s.started
	s.mu.Unlock()

	if started {
		s.wg.Wait()
		return
	}
	for job := range s.queue {
		_ = s.Sync(context.Background(), job.doc, job.v)
	}
}

// Sync upserts v into the index, retrying with exponential backoff.
// Re-sending a version leaves the index unchanged.
func (s *IndexSynchronizer) Sync(ctx context.Context, doc *models.Document, v *models.Version) error {
	key := doc.Key()

	var err error
	attempt := 1
	for ; ; attempt++ {
		if err = s.upsert(ctx, doc, v, attempt); err == nil {
			s.clearFailure(key, v.Seq)
			if attempt > 1 {
				s.logger.Info("index sync recovered", "key", key.String(), "seq", v.Seq, "attempts", attempt)
			}
			return nil
		}
		if attempt >= s.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := s.backoff(attempt)
		s.logger.Warn("index sync failed, retrying",
			"key", key.String(),
			"seq", v.Seq,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			break
		}
	}

	return s.fail(ctx, syncJob{doc: doc, v: v}, attempt, err)
}

// upsert writes the index entry: update, create if absent, update again if a
// concurrent create won
func (s *IndexSynchronizer) upsert(ctx context.Context, doc *models.Document, v *models.Version, attempt int) error {
	key := doc.Key()
	ctx, span := s.tracer.Start(ctx, "docsystem.index_sync", trace.WithAttributes(
		attribute.String("document.key", key.String()),
		attribute.Int64("version.seq", v.Seq),
		attribute.Int("sync.attempt", attempt),
	))
	defer span.End()

	err := s.write(ctx, doc, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *IndexSynchronizer) write(ctx context.Context, doc *models.Document, v *models.Version) error {
	key := doc.Key()

	var text string
	if !v.Snapshot.Deleted {
		var err error
		text, err = composeText(ctx, s.store, doc)
		if err != nil {
			var missing *domain.DependencyMissingError
			if !errors.As(err, &missing) {
				return fmt.Errorf("compose text: %w", err)
			}
			// Indexed by title only until the child reappears
			s.logger.Warn("indexing book without text", "key", key.String(), "missing", missing.Child)
			text = ""
		}
	}

	indexKey := key.IndexKey()
	entry := models.NewIndexedDocument(key, v, text)
	if doc.ForkedFrom != nil {
		entry.ForkedFrom = doc.ForkedFrom
	}

	err := s.index.Update(ctx, indexKey, entry)
	if errors.Is(err, domain.ErrNotFound) {
		err = s.index.Create(ctx, indexKey, entry)
		if errors.Is(err, domain.ErrConflict) {
			err = s.index.Update(ctx, indexKey, entry)
		}
	}
	return err
}

// backoff returns RetryBackoff << (attempt-1), capped at RetryMaxDelay
func (s *IndexSynchronizer) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > 32 {
		return s.cfg.RetryMaxDelay
	}
	delay := s.cfg.RetryBackoff << (attempt - 1)
	if delay > s.cfg.RetryMaxDelay || delay < 0 {
		return s.cfg.RetryMaxDelay
	}
	return delay
}

// fail records the failure, alerts, and returns the IndexError
func (s *IndexSynchronizer) fail(ctx context.Context, job syncJob, attempts int, err error) *domain.IndexError {
	key := job.doc.Key()
	idxErr := &domain.IndexError{Key: key.IndexKey(), Seq: job.v.Seq, Attempts: attempts, Err: err}

	s.failMu.Lock()
	if existing, ok := s.failures[key]; !ok || existing.Seq <= job.v.Seq {
		s.failures[key] = SyncFailure{
			Key:       key,
			Seq:       job.v.Seq,
			VersionID: job.v.ID,
			Attempts:  attempts,
			Error:     err.Error(),
			FailedAt:  time.Now().UTC(),
		}
	}
	s.failMu.Unlock()

	s.alerter.Alert(ctx, idxErr)
	return idxErr
}

func (s *IndexSynchronizer) clearFailure(key models.DocumentKey, seq int64) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if existing, ok := s.failures[key]; ok && existing.Seq <= seq {
		delete(s.failures, key)
	}
}

// Failures lists outstanding failures sorted by key
func (s *IndexSynchronizer) Failures() []SyncFailure {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	out := make([]SyncFailure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Resync re-drives every outstanding failure from the key's current head,
// then reconciles the whole store against the index
func (s *IndexSynchronizer) Resync(ctx context.Context) error {
	var errs []error
	for _, f := range s.Failures() {
		doc, err := reconstitute(ctx, s.store, f.Key)
		if err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", f.Key, err))
			continue
		}
		if err := s.Sync(ctx, doc, doc.Head); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.Reconcile(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Reconcile walks every document head in storage and syncs those whose index
// entry is missing or older. It returns the number of documents synced.
func (s *IndexSynchronizer) Reconcile(ctx context.Context) (int, error) {
	var (
		after  models.DocumentKey
		synced int
		errs   []error
	)
	for {
		heads, err := s.store.ListHeads(ctx, after, reconcileBatch)
		if err != nil {
			return synced, fmt.Errorf("list heads: %w", err)
		}
		for _, h := range heads {
			behind, err := s.lags(ctx, h)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !behind {
				continue
			}
			doc, err := reconstitute(ctx, s.store, h.Key)
			if err != nil {
				errs = append(errs, fmt.Errorf("reconcile %s: %w", h.Key, err))
				continue
			}
			if err := s.Sync(ctx, doc, doc.Head); err != nil {
				errs = append(errs, err)
				continue
			}
			synced++
		}
		if len(heads) < reconcileBatch {
			break
		}
		after = heads[len(heads)-1].Key
	}

	if synced > 0 {
		s.logger.Info("index reconciled", "synced", synced)
	}
	return synced, errors.Join(errs...)
}

// lags reports whether the index entry for h is missing or behind the head
func (s *IndexSynchronizer) lags(ctx context.Context, h models.HeadRef) (bool, error) {
	entry, err := s.index.Get(ctx, h.Key.IndexKey())
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("index get %s: %w", h.Key, err)
	}
	return entry.VersionSeq < h.Seq, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
