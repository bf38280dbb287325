package db

import "errors"

// Sentinel errors for database operations
var (
	// ErrListNotFound indicates that a mailing list was not found in the database
	ErrListNotFound = errors.New("list not found")

	// ErrSubscriptionNotFound indicates that a subscription was not found in the database
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrAccountNotFound indicates that an account was not found in the database
	ErrAccountNotFound = errors.New("account not found")

	// ErrTemplateNotFound indicates that a named template does not exist
	ErrTemplateNotFound = errors.New("template not found")

	// ErrDuplicateSubscription indicates that the (list, address) pair already exists
	ErrDuplicateSubscription = errors.New("subscription already exists")

	// ErrDuplicateList indicates that a list with the given id or address already exists
	ErrDuplicateList = errors.New("list already exists")
)
