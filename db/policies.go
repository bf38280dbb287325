package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oromail/listd/consts"
)

// PostPolicy gates who may post to a list. Exactly one flag is set per row
// and at most one row exists per list. A list without a policy row behaves
// like an open list.
type PostPolicy struct {
	ID             int64
	ListID         int64
	AnnounceOnly   bool
	SubscriberOnly bool
	ApprovalNeeded bool
	Open           bool
	Custom         bool
}

func (p *PostPolicy) Validate() error {
	count := 0
	for _, flag := range []bool{p.AnnounceOnly, p.SubscriberOnly, p.ApprovalNeeded, p.Open, p.Custom} {
		if flag {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("post policy must have exactly one flag set, got %d", count)
	}
	return nil
}

const policyColumns = "id, list_id, announce_only, subscriber_only, approval_needed, open, custom"

// GetPostPolicy returns the active policy for a list, or nil if the list
// has no policy configured.
func (db *Database) GetPostPolicy(ctx context.Context, listID int64) (*PostPolicy, error) {
	var p PostPolicy
	err := db.TimedQueryRow(ctx, "get_post_policy",
		"SELECT "+policyColumns+" FROM post_policies WHERE list_id = $1", listID,
	).Scan(&p.ID, &p.ListID, &p.AnnounceOnly, &p.SubscriberOnly, &p.ApprovalNeeded, &p.Open, &p.Custom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// SetPostPolicy replaces the policy of a list.
func (db *Database) SetPostPolicy(ctx context.Context, tx pgx.Tx, policy *PostPolicy) (*PostPolicy, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	var p PostPolicy
	err := tx.QueryRow(ctx, `
		INSERT INTO post_policies (list_id, announce_only, subscriber_only, approval_needed, open, custom)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (list_id) DO UPDATE SET
			announce_only = EXCLUDED.announce_only,
			subscriber_only = EXCLUDED.subscriber_only,
			approval_needed = EXCLUDED.approval_needed,
			open = EXCLUDED.open,
			custom = EXCLUDED.custom
		RETURNING `+policyColumns,
		policy.ListID, policy.AnnounceOnly, policy.SubscriberOnly, policy.ApprovalNeeded, policy.Open, policy.Custom,
	).Scan(&p.ID, &p.ListID, &p.AnnounceOnly, &p.SubscriberOnly, &p.ApprovalNeeded, &p.Open, &p.Custom)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RemovePostPolicy deletes the policy of a list, making it open.
func (db *Database) RemovePostPolicy(ctx context.Context, tx pgx.Tx, listID int64) error {
	tag, err := tx.Exec(ctx, "DELETE FROM post_policies WHERE list_id = $1", listID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}
