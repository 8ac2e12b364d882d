package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/storage"
)

// CollectedTransactionStore is an in-memory implementation of
// storage.CollectedTransactionStore.
type CollectedTransactionStore struct {
	mu        sync.RWMutex
	byAddress map[string]map[string]*domain.CollectedTransaction
}

// Compile-time interface check.
var _ storage.CollectedTransactionStore = (*CollectedTransactionStore)(nil)

// NewCollectedTransactionStore creates a new in-memory store.
func NewCollectedTransactionStore() *CollectedTransactionStore {
	return &CollectedTransactionStore{byAddress: make(map[string]map[string]*domain.CollectedTransaction)}
}

// Insert adds a transaction. Returns ErrDuplicateKey if (address, signature) exists.
func (s *CollectedTransactionStore) Insert(_ context.Context, t *domain.CollectedTransaction) error {
	if t == nil || t.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sigs, ok := s.byAddress[t.Address]
	if !ok {
		sigs = make(map[string]*domain.CollectedTransaction)
		s.byAddress[t.Address] = sigs
	}
	if _, exists := sigs[t.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	sigs[t.Signature] = &copy
	return nil
}

// GetByAddress returns all transactions collected for an address, newest slot first.
func (s *CollectedTransactionStore) GetByAddress(_ context.Context, address string) ([]*domain.CollectedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.CollectedTransaction, 0, len(s.byAddress[address]))
	for _, t := range s.byAddress[address] {
		copy := *t
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot > result[j].Slot
		}
		return result[i].Signature < result[j].Signature
	})
	return result, nil
}
