package storage

import (
	"context"

	"solana-swap-watch/internal/domain"
)

// AlertStore archives delivered alerts.
type AlertStore interface {
	// Insert adds a new alert. Returns ErrDuplicateKey if (target, tx_id) exists.
	Insert(ctx context.Context, a *domain.Alert) error

	// GetByTxID retrieves the alert for a transaction. Returns ErrNotFound if not exists.
	GetByTxID(ctx context.Context, target, txID string) (*domain.Alert, error)

	// ListRecent returns up to limit alerts for a target, newest block time first.
	ListRecent(ctx context.Context, target string, limit int) ([]*domain.Alert, error)
}

// CollectedTransactionStore archives transaction details gathered by the collector.
type CollectedTransactionStore interface {
	// Insert adds a transaction. Returns ErrDuplicateKey if (address, signature) exists.
	Insert(ctx context.Context, t *domain.CollectedTransaction) error

	// GetByAddress returns all transactions collected for an address, newest slot first.
	GetByAddress(ctx context.Context, address string) ([]*domain.CollectedTransaction, error)
}
