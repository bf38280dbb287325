package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// DigestEntry is one stored post awaiting inclusion in a recipient's next
// digest.
type DigestEntry struct {
	ID        int64
	ListID    int64
	Address   string
	MessageID string
	Message   []byte
	CreatedAt time.Time
}

// StoreDigest records a post for later digest delivery to each recipient.
func (db *Database) StoreDigest(ctx context.Context, tx pgx.Tx, listID int64, recipients []string, messageID string, message []byte) error {
	for _, addr := range recipients {
		if _, err := tx.Exec(ctx, `
			INSERT INTO digests (list_id, address, message_id, message)
			VALUES ($1, $2, $3, $4)`,
			listID, addr, messageID, message); err != nil {
			return err
		}
	}
	return nil
}

// DigestBatch groups the pending entries of one (list, recipient) pair.
type DigestBatch struct {
	ListID  int64
	Address string
	Entries []*DigestEntry
}

// GetDueDigestBatches returns the (list, recipient) pairs whose pending
// entries are ready for assembly: at least minMessages entries, or the
// oldest entry older than maxAge.
func (db *Database) GetDueDigestBatches(ctx context.Context, minMessages int, maxAge time.Duration) ([]*DigestBatch, error) {
	rows, err := db.TimedQuery(ctx, "get_due_digest_batches", `
		SELECT list_id, address FROM digests
		GROUP BY list_id, address
		HAVING COUNT(*) >= $1 OR MIN(created_at) <= now() - $2::interval`,
		minMessages, maxAge.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*DigestBatch
	for rows.Next() {
		var b DigestBatch
		if err := rows.Scan(&b.ListID, &b.Address); err != nil {
			return nil, err
		}
		batches = append(batches, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, b := range batches {
		entries, err := db.getDigestEntries(ctx, b.ListID, b.Address)
		if err != nil {
			return nil, err
		}
		b.Entries = entries
	}
	return batches, nil
}

func (db *Database) getDigestEntries(ctx context.Context, listID int64, address string) ([]*DigestEntry, error) {
	rows, err := db.TimedQuery(ctx, "get_digest_entries", `
		SELECT id, list_id, address, message_id, message, created_at FROM digests
		WHERE list_id = $1 AND address = $2
		ORDER BY created_at`,
		listID, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*DigestEntry
	for rows.Next() {
		var e DigestEntry
		if err := rows.Scan(&e.ID, &e.ListID, &e.Address, &e.MessageID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteDigestEntries removes delivered entries.
func (db *Database) DeleteDigestEntries(ctx context.Context, tx pgx.Tx, ids []int64) error {
	_, err := tx.Exec(ctx, "DELETE FROM digests WHERE id = ANY($1)", ids)
	return err
}
