package storage

import "errors"

// Sentinel errors returned by every store implementation.
var (
	// ErrNotFound means no row matched the lookup key.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey means a row with the same natural key is already
	// archived. Alerts and collected transactions are write-once.
	ErrDuplicateKey = errors.New("record already archived")

	// ErrInvalidInput means the record is nil or lacks its key fields.
	ErrInvalidInput = errors.New("invalid record")
)
