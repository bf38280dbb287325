package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/pkg/metrics"
)

// Queue names the in-database mail queues.
type Queue string

const (
	// QueueMaildrop holds messages that have been received but not yet
	// processed.
	QueueMaildrop Queue = "maildrop"
	// QueueHold holds messages an administrator placed aside. No delivery
	// attempts are made until the administrator intervenes.
	QueueHold Queue = "hold"
	// QueueDeferred holds posts awaiting moderator approval.
	QueueDeferred Queue = "deferred"
	// QueueCorrupt holds unparseable input kept for troubleshooting.
	QueueCorrupt Queue = "corrupt"
	// QueueOut holds outbound mail that must be sent as soon as possible.
	QueueOut Queue = "out"
	// QueueError holds rejected or undeliverable mail for operator review.
	QueueError Queue = "error"
)

// ParseQueue converts a queue name to a Queue.
func ParseQueue(s string) (Queue, error) {
	switch Queue(strings.ToLower(strings.TrimSpace(s))) {
	case QueueMaildrop:
		return QueueMaildrop, nil
	case QueueHold:
		return QueueHold, nil
	case QueueDeferred:
		return QueueDeferred, nil
	case QueueCorrupt:
		return QueueCorrupt, nil
	case QueueOut:
		return QueueOut, nil
	case QueueError:
		return QueueError, nil
	default:
		return "", fmt.Errorf("invalid queue name: %s", s)
	}
}

// QueueEntry is one message in a queue. FromAddress is the envelope sender
// used when the entry is relayed; for posts held in the deferred queue the
// original author is kept in Author so a later release can archive the post.
type QueueEntry struct {
	ID              int64
	Queue           Queue
	ListID          *int64
	Comment         *string
	ToAddresses     string
	DigestAddresses string
	FromAddress     string
	Author          string
	Subject         string
	MessageID       string
	Message         []byte
	Attempts        int
	LastError       *string
	NextAttemptAt   time.Time
	CreatedAt       time.Time
}

// Recipients splits the comma separated to_addresses field.
func (e *QueueEntry) Recipients() []string {
	return splitAddresses(e.ToAddresses)
}

// DigestRecipients splits the comma separated digest_addresses field.
func (e *QueueEntry) DigestRecipients() []string {
	return splitAddresses(e.DigestAddresses)
}

func splitAddresses(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const queueColumns = "id, queue, list_id, comment, to_addresses, digest_addresses, from_address, " +
	"author, subject, message_id, message, attempts, last_error, next_attempt_at, created_at"

// InsertQueueEntry adds a message to a queue within the caller's transaction.
func (db *Database) InsertQueueEntry(ctx context.Context, tx pgx.Tx, entry *QueueEntry) (*QueueEntry, error) {
	var e QueueEntry
	err := tx.QueryRow(ctx, `
		INSERT INTO queue (queue, list_id, comment, to_addresses, digest_addresses, from_address, author, subject, message_id, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+queueColumns,
		entry.Queue, entry.ListID, entry.Comment, entry.ToAddresses, entry.DigestAddresses,
		entry.FromAddress, entry.Author, entry.Subject, entry.MessageID, entry.Message,
	).Scan(&e.ID, &e.Queue, &e.ListID, &e.Comment, &e.ToAddresses, &e.DigestAddresses, &e.FromAddress,
		&e.Author, &e.Subject, &e.MessageID, &e.Message, &e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	metrics.QueueOperations.WithLabelValues(string(entry.Queue), "insert").Inc()
	return &e, nil
}

func (db *Database) GetQueueEntry(ctx context.Context, id int64) (*QueueEntry, error) {
	var e QueueEntry
	err := db.TimedQueryRow(ctx, "get_queue_entry",
		"SELECT "+queueColumns+" FROM queue WHERE id = $1", id,
	).Scan(&e.ID, &e.Queue, &e.ListID, &e.Comment, &e.ToAddresses, &e.DigestAddresses, &e.FromAddress,
		&e.Author, &e.Subject, &e.MessageID, &e.Message, &e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrDBNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (db *Database) GetQueueEntries(ctx context.Context, queue Queue, limit int) ([]*QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.TimedQuery(ctx, "get_queue_entries",
		"SELECT "+queueColumns+" FROM queue WHERE queue = $1 ORDER BY created_at LIMIT $2",
		queue, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

// AcquireDueOutEntries locks and returns out-queue entries that are due for a
// delivery attempt. Rows locked by concurrent workers are skipped.
func (db *Database) AcquireDueOutEntries(ctx context.Context, tx pgx.Tx, limit int) ([]*QueueEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+queueColumns+` FROM queue
		WHERE queue = 'out' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

func scanQueueEntries(rows pgx.Rows) ([]*QueueEntry, error) {
	var entries []*QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.Queue, &e.ListID, &e.Comment, &e.ToAddresses, &e.DigestAddresses,
			&e.FromAddress, &e.Author, &e.Subject, &e.MessageID, &e.Message, &e.Attempts, &e.LastError,
			&e.NextAttemptAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteQueueEntry removes an entry, typically after successful delivery.
func (db *Database) DeleteQueueEntry(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, "DELETE FROM queue WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	metrics.QueueOperations.WithLabelValues("out", "delete").Inc()
	return nil
}

// RecordDeliveryFailure bumps the attempt counter and schedules the next try.
func (db *Database) RecordDeliveryFailure(ctx context.Context, tx pgx.Tx, id int64, deliveryErr string, nextAttempt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE queue SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2
		WHERE id = $3`,
		deliveryErr, nextAttempt, id)
	return err
}

// MoveQueueEntry moves an entry to another queue, e.g. deferred -> out on
// moderator approval, or out -> error after exhausting delivery attempts.
func (db *Database) MoveQueueEntry(ctx context.Context, tx pgx.Tx, id int64, to Queue, comment string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE queue SET queue = $1, comment = $2, attempts = 0, last_error = NULL, next_attempt_at = now()
		WHERE id = $3`,
		to, comment, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	metrics.QueueOperations.WithLabelValues(string(to), "move").Inc()
	return nil
}

// ReleaseQueueEntry dispatches a deferred or held post on moderator
// approval. The post is archived, its digest recipients get their digest
// rows, and the entry itself moves to the out queue for immediate delivery.
// The recipient sets were computed when the post was deferred, so the filter
// chain does not run again.
func (db *Database) ReleaseQueueEntry(ctx context.Context, tx pgx.Tx, entry *QueueEntry, comment string) error {
	if entry.ListID == nil {
		return fmt.Errorf("queue entry %d has no list", entry.ID)
	}

	author := entry.Author
	if author == "" {
		author = entry.FromAddress
	}
	if _, err := db.InsertPost(ctx, tx, *entry.ListID, &author, author, entry.MessageID, entry.Message); err != nil {
		return err
	}
	if digests := entry.DigestRecipients(); len(digests) > 0 {
		if err := db.StoreDigest(ctx, tx, *entry.ListID, digests, entry.MessageID, entry.Message); err != nil {
			return err
		}
	}
	if len(entry.Recipients()) == 0 {
		// Nobody takes immediate delivery; the entry is consumed here.
		return db.DeleteQueueEntry(ctx, tx, entry.ID)
	}
	return db.MoveQueueEntry(ctx, tx, entry.ID, QueueOut, comment)
}

// CountQueueEntries returns the per-queue entry counts.
func (db *Database) CountQueueEntries(ctx context.Context) (map[Queue]int64, error) {
	rows, err := db.TimedQuery(ctx, "count_queue_entries",
		"SELECT queue, COUNT(*) FROM queue GROUP BY queue")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Queue]int64)
	for rows.Next() {
		var q Queue
		var count int64
		if err := rows.Scan(&q, &count); err != nil {
			return nil, err
		}
		counts[q] = count
	}
	return counts, rows.Err()
}
