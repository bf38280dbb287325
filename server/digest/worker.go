// Package digest assembles accumulated posts into periodic digest messages.
// Posts for subscribers in digest mode are stored at delivery time and sent
// here as one multipart/digest message per recipient once enough posts
// accumulate or the oldest one grows too old.
package digest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-message"
	"github.com/google/uuid"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/pkg/metrics"
)

// Notifier wakes a queue consumer after new out queue entries are written.
type Notifier interface {
	NotifyQueued()
}

// Worker periodically collects due digest batches, assembles them and
// enqueues the result for delivery.
type Worker struct {
	database *db.Database
	notifier Notifier
	hostname string

	interval    time.Duration
	minMessages int
	maxAge      time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorker builds a digest worker from its configuration section. The
// notifier may be nil.
func NewWorker(database *db.Database, notifier Notifier, hostname string, cfg *config.DigestConfig) (*Worker, error) {
	interval, err := cfg.GetInterval()
	if err != nil {
		return nil, fmt.Errorf("invalid interval: %w", err)
	}
	maxAge, err := cfg.GetMaxAge()
	if err != nil {
		return nil, fmt.Errorf("invalid max_age: %w", err)
	}

	return &Worker{
		database:    database,
		notifier:    notifier,
		hostname:    hostname,
		interval:    interval,
		minMessages: cfg.GetMinMessages(),
		maxAge:      maxAge,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins periodic digest assembly. Safe to call more than once.
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
	logger.Info("digest worker started", "interval", w.interval,
		"min_messages", w.minMessages, "max_age", w.maxAge)
}

// Stop waits for the current cycle to finish. Safe to call more than once.
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
	logger.Info("digest worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processDigests(ctx)
		}
	}
}

// processDigests sends every due batch. Each batch commits independently so
// one failing recipient does not hold back the others.
func (w *Worker) processDigests(ctx context.Context) {
	batches, err := w.database.GetDueDigestBatches(ctx, w.minMessages, w.maxAge)
	if err != nil {
		logger.Error("digest worker failed to collect batches", "error", err)
		return
	}
	if len(batches) == 0 {
		return
	}

	sent := 0
	for _, batch := range batches {
		if err := w.sendBatch(ctx, batch); err != nil {
			logger.Error("digest assembly failed", "list", batch.ListID,
				"recipient", batch.Address, "error", err)
			continue
		}
		sent++
	}

	if sent > 0 {
		logger.Info("digests queued", "count", sent)
		if w.notifier != nil {
			w.notifier.NotifyQueued()
		}
	}
}

func (w *Worker) sendBatch(ctx context.Context, batch *db.DigestBatch) error {
	list, err := w.database.GetList(ctx, batch.ListID)
	if err != nil {
		return fmt.Errorf("failed to load list: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), w.hostname)
	subject := fmt.Sprintf("[%s] Digest of %d messages", list.ListID, len(batch.Entries))

	raw, err := assembleDigest(list, batch, subject, messageID)
	if err != nil {
		return err
	}

	tx, err := w.database.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := w.database.InsertQueueEntry(ctx, tx, &db.QueueEntry{
		Queue:       db.QueueOut,
		ListID:      &list.ID,
		ToAddresses: batch.Address,
		FromAddress: list.Address,
		Subject:     subject,
		MessageID:   messageID,
		Message:     raw,
	}); err != nil {
		return err
	}

	ids := make([]int64, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		ids = append(ids, entry.ID)
	}
	if err := w.database.DeleteDigestEntries(ctx, tx, ids); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.DigestsSent.Inc()
	logger.Debug("digest queued", "list", list.ListID, "recipient", batch.Address,
		"messages", len(batch.Entries))
	return nil
}

// assembleDigest builds a multipart/digest message whose parts carry the
// original posts as message/rfc822.
func assembleDigest(list *db.MailingList, batch *db.DigestBatch, subject, messageID string) ([]byte, error) {
	var header message.Header
	header.Set("From", list.DisplayName())
	header.Set("To", batch.Address)
	header.Set("Subject", subject)
	header.Set("Message-ID", messageID)
	header.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	header.Set("MIME-Version", "1.0")
	header.Set("List-ID", list.IDHeader())
	header.SetContentType("multipart/digest", nil)

	var buf bytes.Buffer
	mw, err := message.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest writer: %w", err)
	}

	for _, entry := range batch.Entries {
		var partHeader message.Header
		partHeader.SetContentType("message/rfc822", nil)
		pw, err := mw.CreatePart(partHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create digest part: %w", err)
		}
		if _, err := pw.Write(entry.Message); err != nil {
			pw.Close()
			return nil, fmt.Errorf("failed to write digest part: %w", err)
		}
		pw.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize digest: %w", err)
	}
	return buf.Bytes(), nil
}
