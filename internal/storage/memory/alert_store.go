package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/storage"
)

type alertKey struct {
	Target string
	TxID   string
}

// AlertStore is an in-memory implementation of storage.AlertStore.
type AlertStore struct {
	mu   sync.RWMutex
	data map[alertKey]*domain.Alert
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{data: make(map[alertKey]*domain.Alert)}
}

// Insert adds a new alert. Returns ErrDuplicateKey if (target, tx_id) exists.
func (s *AlertStore) Insert(_ context.Context, a *domain.Alert) error {
	if a == nil || a.Trade.TxID == "" {
		return storage.ErrInvalidInput
	}

	key := alertKey{Target: a.Target, TxID: a.Trade.TxID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *a
	s.data[key] = &copy
	return nil
}

// GetByTxID retrieves the alert for a transaction. Returns ErrNotFound if not exists.
func (s *AlertStore) GetByTxID(_ context.Context, target, txID string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[alertKey{Target: target, TxID: txID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

// ListRecent returns up to limit alerts for a target, newest block time first.
func (s *AlertStore) ListRecent(_ context.Context, target string, limit int) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Alert
	for k, a := range s.data {
		if k.Target == target {
			copy := *a
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].Trade.BlockTime, result[j].Trade.BlockTime
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return result[i].Trade.TxID < result[j].Trade.TxID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
