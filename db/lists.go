package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/helpers"
)

// MailingList is one mailing list. The short ListID appears in the subject
// tag (e.g. `[foo-chat] New post!`) and in the List-ID header.
type MailingList struct {
	ID          int64
	Name        string
	ListID      string
	Address     string
	Description *string
	ArchiveURL  *string
	Topics      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DisplayName returns the list display name (e.g. `"list name" <list@example.com>`).
func (l *MailingList) DisplayName() string {
	return fmt.Sprintf("\"%s\" <%s>", l.Name, l.Address)
}

// IDHeader returns the value of the List-ID header (RFC 2919).
func (l *MailingList) IDHeader() string {
	_, domain := helpers.SplitEmailAddress(l.Address)
	if l.Description != nil && *l.Description != "" {
		return fmt.Sprintf("%s <%s.%s>", *l.Description, l.ListID, domain)
	}
	return fmt.Sprintf("<%s.%s>", l.ListID, domain)
}

// RequestAddress returns the subaddress that receives control commands.
func (l *MailingList) RequestAddress() string {
	local, domain := helpers.SplitEmailAddress(l.Address)
	return fmt.Sprintf("%s+request@%s", local, domain)
}

// PostHeader returns the value of the List-Post header (RFC 2369 Section 3.4).
// Announce only lists advertise that posting is not available.
func (l *MailingList) PostHeader(policy *PostPolicy) string {
	if policy != nil && policy.AnnounceOnly {
		return "NO"
	}
	return fmt.Sprintf("<mailto:%s>", l.Address)
}

// UnsubscribeHeader returns the value of the List-Unsubscribe header (RFC 2369 Section 3.2).
func (l *MailingList) UnsubscribeHeader() string {
	return fmt.Sprintf("<mailto:%s?subject=unsubscribe>", l.RequestAddress())
}

// SubscribeHeader returns the value of the List-Subscribe header (RFC 2369 Section 3.3).
func (l *MailingList) SubscribeHeader() string {
	return fmt.Sprintf("<mailto:%s?subject=subscribe>", l.RequestAddress())
}

// HelpHeader returns the value of the List-Help header (RFC 2369 Section 3.1).
func (l *MailingList) HelpHeader() string {
	return fmt.Sprintf("<mailto:%s?subject=help>", l.RequestAddress())
}

// ArchiveHeader returns the value of the List-Archive header (RFC 2369
// Section 3.6), or the empty string if the list has no archive.
func (l *MailingList) ArchiveHeader() string {
	if l.ArchiveURL == nil || *l.ArchiveURL == "" {
		return ""
	}
	return fmt.Sprintf("<%s>", *l.ArchiveURL)
}

const listColumns = "id, name, list_id, address, description, archive_url, topics, created_at, updated_at"

func scanList(row pgx.Row) (*MailingList, error) {
	var l MailingList
	err := row.Scan(&l.ID, &l.Name, &l.ListID, &l.Address, &l.Description, &l.ArchiveURL, &l.Topics, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrDBNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (db *Database) GetList(ctx context.Context, id int64) (*MailingList, error) {
	row := db.TimedQueryRow(ctx, "get_list",
		"SELECT "+listColumns+" FROM lists WHERE id = $1", id)
	return scanList(row)
}

func (db *Database) GetListByListID(ctx context.Context, listID string) (*MailingList, error) {
	row := db.TimedQueryRow(ctx, "get_list_by_list_id",
		"SELECT "+listColumns+" FROM lists WHERE list_id = $1", listID)
	return scanList(row)
}

func (db *Database) GetListByAddress(ctx context.Context, address string) (*MailingList, error) {
	row := db.TimedQueryRow(ctx, "get_list_by_address",
		"SELECT "+listColumns+" FROM lists WHERE lower(address) = lower($1)", address)
	return scanList(row)
}

func (db *Database) GetLists(ctx context.Context) ([]*MailingList, error) {
	rows, err := db.TimedQuery(ctx, "get_lists",
		"SELECT "+listColumns+" FROM lists ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*MailingList
	for rows.Next() {
		var l MailingList
		if err := rows.Scan(&l.ID, &l.Name, &l.ListID, &l.Address, &l.Description, &l.ArchiveURL, &l.Topics, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, &l)
	}
	return lists, rows.Err()
}

func (db *Database) CreateList(ctx context.Context, tx pgx.Tx, name, listID, address string, description, archiveURL *string, topics []string) (*MailingList, error) {
	var l MailingList
	err := tx.QueryRow(ctx, `
		INSERT INTO lists (name, list_id, address, description, archive_url, topics)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+listColumns,
		name, listID, address, description, archiveURL, topics,
	).Scan(&l.ID, &l.Name, &l.ListID, &l.Address, &l.Description, &l.ArchiveURL, &l.Topics, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateList
		}
		return nil, err
	}
	return &l, nil
}

func (db *Database) UpdateList(ctx context.Context, tx pgx.Tx, list *MailingList) error {
	tag, err := tx.Exec(ctx, `
		UPDATE lists SET name = $1, address = $2, description = $3, archive_url = $4, topics = $5, updated_at = now()
		WHERE id = $6`,
		list.Name, list.Address, list.Description, list.ArchiveURL, list.Topics, list.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrListNotFound
	}
	return nil
}

func (db *Database) DeleteList(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, "DELETE FROM lists WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrListNotFound
	}
	return nil
}
