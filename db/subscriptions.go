package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oromail/listd/consts"
)

// ListSubscription is one membership of an address in a list.
type ListSubscription struct {
	ID                  int64
	ListID              int64
	Address             string
	Name                *string
	AccountID           *int64
	Digest              bool
	HideAddress         bool
	ReceiveDuplicates   bool
	ReceiveOwnPosts     bool
	ReceiveConfirmation bool
	Enabled             bool
	Verified            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const subscriptionColumns = "id, list_id, address, name, account_id, digest, hide_address, " +
	"receive_duplicates, receive_own_posts, receive_confirmation, enabled, verified, created_at, updated_at"

func scanSubscription(row pgx.Row) (*ListSubscription, error) {
	var s ListSubscription
	err := row.Scan(&s.ID, &s.ListID, &s.Address, &s.Name, &s.AccountID, &s.Digest, &s.HideAddress,
		&s.ReceiveDuplicates, &s.ReceiveOwnPosts, &s.ReceiveConfirmation, &s.Enabled, &s.Verified,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrDBNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (db *Database) GetSubscription(ctx context.Context, listID int64, address string) (*ListSubscription, error) {
	row := db.TimedQueryRow(ctx, "get_subscription",
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE list_id = $1 AND address = $2",
		listID, address)
	return scanSubscription(row)
}

func (db *Database) GetSubscriptions(ctx context.Context, listID int64) ([]*ListSubscription, error) {
	rows, err := db.TimedQuery(ctx, "get_subscriptions",
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE list_id = $1 ORDER BY id", listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*ListSubscription
	for rows.Next() {
		var s ListSubscription
		if err := rows.Scan(&s.ID, &s.ListID, &s.Address, &s.Name, &s.AccountID, &s.Digest, &s.HideAddress,
			&s.ReceiveDuplicates, &s.ReceiveOwnPosts, &s.ReceiveConfirmation, &s.Enabled, &s.Verified,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

// CreateSubscription adds a member to a list. The (list, address) pair is
// unique; subscribing twice is an error surfaced as ErrDuplicateSubscription.
func (db *Database) CreateSubscription(ctx context.Context, tx pgx.Tx, sub *ListSubscription) (*ListSubscription, error) {
	var s ListSubscription
	err := tx.QueryRow(ctx, `
		INSERT INTO subscriptions (list_id, address, name, account_id, digest, hide_address,
			receive_duplicates, receive_own_posts, receive_confirmation, enabled, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+subscriptionColumns,
		sub.ListID, sub.Address, sub.Name, sub.AccountID, sub.Digest, sub.HideAddress,
		sub.ReceiveDuplicates, sub.ReceiveOwnPosts, sub.ReceiveConfirmation, sub.Enabled, sub.Verified,
	).Scan(&s.ID, &s.ListID, &s.Address, &s.Name, &s.AccountID, &s.Digest, &s.HideAddress,
		&s.ReceiveDuplicates, &s.ReceiveOwnPosts, &s.ReceiveConfirmation, &s.Enabled, &s.Verified,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSubscription
		}
		return nil, err
	}
	return &s, nil
}

func (db *Database) UpdateSubscription(ctx context.Context, tx pgx.Tx, sub *ListSubscription) error {
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET name = $1, digest = $2, hide_address = $3, receive_duplicates = $4,
			receive_own_posts = $5, receive_confirmation = $6, enabled = $7, verified = $8, updated_at = now()
		WHERE list_id = $9 AND address = $10`,
		sub.Name, sub.Digest, sub.HideAddress, sub.ReceiveDuplicates,
		sub.ReceiveOwnPosts, sub.ReceiveConfirmation, sub.Enabled, sub.Verified,
		sub.ListID, sub.Address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (db *Database) DeleteSubscription(ctx context.Context, tx pgx.Tx, listID int64, address string) error {
	tag, err := tx.Exec(ctx,
		"DELETE FROM subscriptions WHERE list_id = $1 AND address = $2", listID, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// CountSubscriptions returns the total number of subscriptions across all lists.
func (db *Database) CountSubscriptions(ctx context.Context) (int64, error) {
	var count int64
	err := db.TimedQueryRow(ctx, "count_subscriptions",
		"SELECT COUNT(*) FROM subscriptions").Scan(&count)
	return count, err
}
