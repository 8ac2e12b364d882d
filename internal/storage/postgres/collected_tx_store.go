package postgres

import (
	"context"
	"fmt"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/storage"
)

// CollectedTransactionStore implements storage.CollectedTransactionStore using PostgreSQL.
type CollectedTransactionStore struct {
	pool *Pool
}

// NewCollectedTransactionStore creates a new CollectedTransactionStore.
func NewCollectedTransactionStore(pool *Pool) *CollectedTransactionStore {
	return &CollectedTransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CollectedTransactionStore = (*CollectedTransactionStore)(nil)

// Insert adds a collected transaction. Returns ErrDuplicateKey if (address, signature) exists.
func (s *CollectedTransactionStore) Insert(ctx context.Context, tx *domain.CollectedTransaction) error {
	if tx == nil || tx.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO collected_transactions (
			signature, address, slot, block_time, failed, account_keys, log_messages
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		tx.Signature,
		tx.Address,
		tx.Slot,
		tx.BlockTime,
		tx.Failed,
		nonNil(tx.AccountKeys),
		nonNil(tx.LogMessages),
	)
	return mapError("insert collected transaction", err)
}

// GetByAddress returns all collected transactions for an address, newest slot first.
func (s *CollectedTransactionStore) GetByAddress(ctx context.Context, address string) ([]*domain.CollectedTransaction, error) {
	query := `
		SELECT signature, address, slot, block_time, failed, account_keys, log_messages
		FROM collected_transactions
		WHERE address = $1
		ORDER BY slot DESC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("get collected transactions by address: %w", err)
	}
	defer rows.Close()

	var txs []*domain.CollectedTransaction
	for rows.Next() {
		var tx domain.CollectedTransaction
		if err := rows.Scan(
			&tx.Signature,
			&tx.Address,
			&tx.Slot,
			&tx.BlockTime,
			&tx.Failed,
			&tx.AccountKeys,
			&tx.LogMessages,
		); err != nil {
			return nil, fmt.Errorf("scan collected transaction row: %w", err)
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collected transaction rows: %w", err)
	}
	return txs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
