package consts

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")

	ErrDBNotFound                = errors.New("not found")
	ErrDBCommitTransactionFailed = errors.New("commit failed")
	ErrDBBeginTransactionFailed  = errors.New("start transaction failed")
	ErrDBInsertFailed            = errors.New("insert failed")

	ErrSerializationFailed = errors.New("serialization failed")
)
