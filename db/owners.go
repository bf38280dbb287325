package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ListOwner is a distinguished address allowed to post on announce only
// lists and notified of administrative events.
type ListOwner struct {
	ID        int64
	ListID    int64
	Address   string
	Name      *string
	CreatedAt time.Time
}

// AsSubscription converts an owner to a subscription shaped value for
// address list merging. Owners receive every post immediately and never
// their own.
func (o *ListOwner) AsSubscription() *ListSubscription {
	return &ListSubscription{
		ListID:              o.ListID,
		Address:             o.Address,
		Name:                o.Name,
		Digest:              false,
		HideAddress:         false,
		ReceiveDuplicates:   true,
		ReceiveOwnPosts:     false,
		ReceiveConfirmation: true,
		Enabled:             true,
		Verified:            true,
	}
}

func (db *Database) GetListOwners(ctx context.Context, listID int64) ([]*ListOwner, error) {
	rows, err := db.TimedQuery(ctx, "get_list_owners",
		"SELECT id, list_id, address, name, created_at FROM list_owners WHERE list_id = $1 ORDER BY id", listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []*ListOwner
	for rows.Next() {
		var o ListOwner
		if err := rows.Scan(&o.ID, &o.ListID, &o.Address, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		owners = append(owners, &o)
	}
	return owners, rows.Err()
}

func (db *Database) AddListOwner(ctx context.Context, tx pgx.Tx, listID int64, address string, name *string) (*ListOwner, error) {
	var o ListOwner
	err := tx.QueryRow(ctx, `
		INSERT INTO list_owners (list_id, address, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id, address) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, list_id, address, name, created_at`,
		listID, address, name,
	).Scan(&o.ID, &o.ListID, &o.Address, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (db *Database) RemoveListOwner(ctx context.Context, tx pgx.Tx, listID int64, address string) error {
	tag, err := tx.Exec(ctx,
		"DELETE FROM list_owners WHERE list_id = $1 AND address = $2", listID, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("owner not found")
	}
	return nil
}
