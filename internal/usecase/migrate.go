package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"poisearch/internal/adapter/flatindex"
	"poisearch/internal/domain"
	"poisearch/internal/port"
)

// Migrator copies a persisted flat index into the remote vector store in
// bounded batches. Upserts are keyed by path, so the whole job is idempotent
// and a failed run can simply be restarted from the beginning without
// accumulating duplicate points.
type Migrator struct {
	store      port.VectorStore
	batchSize  int
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger

	// Progress, when set, is invoked after each upserted batch with
	// (entries done, entries total).
	Progress func(done, total int)
}

// MigratorOptions configures a Migrator.
type MigratorOptions struct {
	BatchSize  int           // entries per upsert, default 100
	MaxRetries int           // retries per batch after the first attempt, default 3
	Backoff    time.Duration // base backoff between retries, default 500ms
	BatchRate  rate.Limit    // upsert batches per second, 0 = unlimited
}

// NewMigrator creates a migrator targeting the given store.
func NewMigrator(store port.VectorStore, opts MigratorOptions, logger *slog.Logger) *Migrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.BatchRate > 0 {
		limiter = rate.NewLimiter(opts.BatchRate, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		store:      store,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		limiter:    limiter,
		logger:     logger,
	}
}

// Migrate upserts every entry of the flat index into the model's collection.
// It returns the number of entries upserted. On a batch failure it retries
// with bounded backoff; after exhausting the budget it fails with a
// MigrationError reporting how many entries already succeeded.
func (m *Migrator) Migrate(ctx context.Context, ix *flatindex.Index, model domain.Model) (int, error) {
	if err := m.store.EnsureCollection(ctx, model, ix.Dimension()); err != nil {
		return 0, &domain.MigrationError{Model: model, Migrated: 0, Err: err}
	}

	entries := ix.Entries()
	migrated := 0

	for start := 0; start < len(entries); start += m.batchSize {
		end := start + m.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		if err := m.limiter.Wait(ctx); err != nil {
			return migrated, &domain.MigrationError{Model: model, Migrated: migrated, Err: err}
		}
		if err := m.upsertWithRetry(ctx, model, batch); err != nil {
			return migrated, &domain.MigrationError{Model: model, Migrated: migrated, Err: err}
		}

		migrated += len(batch)
		if m.Progress != nil {
			m.Progress(migrated, len(entries))
		}
	}

	m.logger.Info("migration complete", "model", model, "entries", migrated)
	return migrated, nil
}

func (m *Migrator) upsertWithRetry(ctx context.Context, model domain.Model, batch []domain.IndexEntry) error {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			m.logger.Warn("retrying batch upsert",
				"model", model,
				"attempt", attempt,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.backoff * time.Duration(attempt)):
			}
		}

		lastErr = m.store.Upsert(ctx, model, batch)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("batch upsert exhausted %d retries: %w", m.maxRetries, lastErr)
}
