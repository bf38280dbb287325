package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Account is a known correspondent with optional credentials for the
// archive front end.
type Account struct {
	ID        int64
	Address   string
	Name      *string
	Password  *string // bcrypt hash
	PublicKey *string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const accountColumns = "id, address, name, password, public_key, enabled, created_at, updated_at"

func (db *Database) GetAccountByAddress(ctx context.Context, address string) (*Account, error) {
	var a Account
	err := db.TimedQueryRow(ctx, "get_account_by_address",
		"SELECT "+accountColumns+" FROM accounts WHERE lower(address) = lower($1)", address,
	).Scan(&a.ID, &a.Address, &a.Name, &a.Password, &a.PublicKey, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpsertAccount creates an account for an address if one does not exist.
func (db *Database) UpsertAccount(ctx context.Context, tx pgx.Tx, address string, name *string) (*Account, error) {
	var a Account
	err := tx.QueryRow(ctx, `
		INSERT INTO accounts (address, name)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET updated_at = now()
		RETURNING `+accountColumns,
		address, name,
	).Scan(&a.ID, &a.Address, &a.Name, &a.Password, &a.PublicKey, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAccountPassword hashes and stores a new password for an address.
func (db *Database) SetAccountPassword(ctx context.Context, tx pgx.Tx, address, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"UPDATE accounts SET password = $1, updated_at = now() WHERE lower(address) = lower($2)",
		string(hash), address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// VerifyAccountPassword checks a candidate password against the stored hash.
func (db *Database) VerifyAccountPassword(ctx context.Context, address, password string) error {
	account, err := db.GetAccountByAddress(ctx, address)
	if err != nil {
		return err
	}
	if !account.Enabled || account.Password == nil {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(*account.Password), []byte(password))
}
