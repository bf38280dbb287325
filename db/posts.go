package db

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"lukechampine.com/blake3"

	"github.com/oromail/listd/consts"
)

// Post is an archived list post. MonthYear is derived from created_at at
// query time and groups the archive by month.
type Post struct {
	ID           int64
	ListID       int64
	EnvelopeFrom *string
	Address      string
	MessageID    string
	Message      []byte
	ContentHash  string
	CreatedAt    time.Time
	MonthYear    string
}

// ContentHash returns the hex encoded BLAKE3 hash of a raw message.
func ContentHash(message []byte) string {
	sum := blake3.Sum256(message)
	return hex.EncodeToString(sum[:])
}

const postColumns = "id, list_id, envelope_from, address, message_id, message, content_hash, created_at, " +
	"to_char(created_at, 'YYYY-MM') AS month_year"

// InsertPost archives an accepted post. Duplicate (list, message id) pairs
// are ignored so reprocessing a message is harmless.
func (db *Database) InsertPost(ctx context.Context, tx pgx.Tx, listID int64, envelopeFrom *string, address, messageID string, message []byte) (*Post, error) {
	var p Post
	err := tx.QueryRow(ctx, `
		INSERT INTO posts (list_id, envelope_from, address, message_id, message, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+postColumns,
		listID, envelopeFrom, address, messageID, message, ContentHash(message),
	).Scan(&p.ID, &p.ListID, &p.EnvelopeFrom, &p.Address, &p.MessageID, &p.Message, &p.ContentHash, &p.CreatedAt, &p.MonthYear)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return db.GetPostByMessageID(ctx, listID, messageID)
		}
		return nil, err
	}
	return &p, nil
}

func (db *Database) GetPostByMessageID(ctx context.Context, listID int64, messageID string) (*Post, error) {
	var p Post
	err := db.TimedQueryRow(ctx, "get_post_by_message_id",
		"SELECT "+postColumns+" FROM posts WHERE list_id = $1 AND message_id = $2",
		listID, messageID,
	).Scan(&p.ID, &p.ListID, &p.EnvelopeFrom, &p.Address, &p.MessageID, &p.Message, &p.ContentHash, &p.CreatedAt, &p.MonthYear)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrDBNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (db *Database) GetListPosts(ctx context.Context, listID int64, limit int) ([]*Post, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.TimedQuery(ctx, "get_list_posts",
		"SELECT "+postColumns+" FROM posts WHERE list_id = $1 ORDER BY created_at DESC LIMIT $2",
		listID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// GetListPostsByMonth returns the archive for one month, given as YYYY-MM.
func (db *Database) GetListPostsByMonth(ctx context.Context, listID int64, monthYear string) ([]*Post, error) {
	rows, err := db.TimedQuery(ctx, "get_list_posts_by_month",
		"SELECT "+postColumns+" FROM posts WHERE list_id = $1 AND date_trunc('month', created_at) = to_date($2, 'YYYY-MM') ORDER BY created_at",
		listID, monthYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

func scanPosts(rows pgx.Rows) ([]*Post, error) {
	var posts []*Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.ListID, &p.EnvelopeFrom, &p.Address, &p.MessageID, &p.Message, &p.ContentHash, &p.CreatedAt, &p.MonthYear); err != nil {
			return nil, err
		}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}
