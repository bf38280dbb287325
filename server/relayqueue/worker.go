package relayqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/pkg/metrics"
)

// Worker drains the out queue in the background. Entries are acquired
// FOR UPDATE SKIP LOCKED so concurrent workers never deliver the same
// message twice, and each entry's outcome commits in its own transaction.
type Worker struct {
	database *db.Database
	handler  RelayHandler

	interval    time.Duration
	batchSize   int
	concurrency int
	maxAttempts int
	backoff     []time.Duration

	notifyCh chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewWorker builds an out queue worker from the relay queue configuration.
func NewWorker(database *db.Database, handler RelayHandler, cfg *config.RelayQueueConfig) (*Worker, error) {
	interval, err := cfg.GetWorkerInterval()
	if err != nil {
		return nil, fmt.Errorf("invalid worker_interval: %w", err)
	}
	backoff, err := cfg.GetRetryBackoff()
	if err != nil {
		return nil, fmt.Errorf("invalid retry_backoff: %w", err)
	}

	return &Worker{
		database:    database,
		handler:     handler,
		interval:    interval,
		batchSize:   cfg.GetBatchSize(),
		concurrency: cfg.GetConcurrency(),
		maxAttempts: cfg.GetMaxAttempts(),
		backoff:     backoff,
		notifyCh:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins background processing. Safe to call more than once.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
	logger.Info("relay worker started", "interval", w.interval,
		"batch_size", w.batchSize, "concurrency", w.concurrency, "max_attempts", w.maxAttempts)
}

// Stop waits for in flight deliveries to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	logger.Info("relay worker stopped")
}

// NotifyQueued wakes the worker without waiting for the next tick. Non
// blocking; a pending wakeup is enough.
func (w *Worker) NotifyQueued() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.processQueue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processQueue(ctx)
		case <-w.notifyCh:
			w.processQueue(ctx)
		}
	}
}

// processQueue acquires one batch of due entries and delivers them with
// bounded concurrency. The acquisition transaction stays open until every
// entry's outcome is recorded, which keeps the row locks held.
func (w *Worker) processQueue(ctx context.Context) {
	tx, err := w.database.BeginTx(ctx)
	if err != nil {
		logger.Error("relay worker failed to begin transaction", "error", err)
		return
	}
	defer tx.Rollback(ctx)

	entries, err := w.database.AcquireDueOutEntries(ctx, tx, w.batchSize)
	if err != nil {
		logger.Error("relay worker failed to acquire entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	logger.Debug("relay worker processing batch", "count", len(entries))

	type outcome struct {
		entry *db.QueueEntry
		err   error
	}
	results := make([]outcome, len(entries))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for i, entry := range entries {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, entry *db.QueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = outcome{entry: entry, err: w.deliver(entry)}
		}(i, entry)
	}
	wg.Wait()

	for _, res := range results {
		if err := w.recordOutcome(ctx, tx, res.entry, res.err); err != nil {
			logger.Error("relay worker failed to record outcome",
				"entry", res.entry.ID, "error", err)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Error("relay worker failed to commit batch", "error", err)
	}
}

func (w *Worker) deliver(entry *db.QueueEntry) error {
	start := time.Now()
	err := w.handler.Deliver(entry.FromAddress, entry.Recipients(), entry.Message)
	metrics.RelayDeliveryDuration.Observe(time.Since(start).Seconds())
	return err
}

// recordOutcome deletes a delivered entry, reschedules a temporary failure
// or moves an exhausted or permanently failed entry to the error queue.
func (w *Worker) recordOutcome(ctx context.Context, tx pgx.Tx, entry *db.QueueEntry, deliveryErr error) error {
	if deliveryErr == nil {
		logger.Info("message delivered", "entry", entry.ID,
			"message_id", entry.MessageID, "recipients", len(entry.Recipients()))
		return w.database.DeleteQueueEntry(ctx, tx, entry.ID)
	}

	metrics.RelayDeliveries.WithLabelValues("failure").Inc()
	attempts := entry.Attempts + 1

	if IsPermanentError(deliveryErr) || attempts >= w.maxAttempts {
		logger.Warn("delivery abandoned", "entry", entry.ID, "message_id", entry.MessageID,
			"attempts", attempts, "error", deliveryErr)
		return w.database.MoveQueueEntry(ctx, tx, entry.ID, db.QueueError, deliveryErr.Error())
	}

	next := time.Now().Add(w.retryDelay(attempts))
	logger.Warn("delivery failed, will retry", "entry", entry.ID, "message_id", entry.MessageID,
		"attempts", attempts, "next_attempt", next, "error", deliveryErr)
	return w.database.RecordDeliveryFailure(ctx, tx, entry.ID, deliveryErr.Error(), next)
}

// retryDelay returns the backoff before the next attempt. Attempts beyond
// the schedule reuse its last entry.
func (w *Worker) retryDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(w.backoff) {
		idx = len(w.backoff) - 1
	}
	return w.backoff[idx]
}
