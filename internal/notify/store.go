package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
	"solana-swap-watch/internal/storage"
)

// StoreNotifier archives alerts in an AlertStore.
type StoreNotifier struct {
	store storage.AlertStore
	now   func() time.Time
}

// Compile-time interface check.
var _ poller.Notifier = (*StoreNotifier)(nil)

// NewStoreNotifier creates a notifier writing to store.
func NewStoreNotifier(store storage.AlertStore) *StoreNotifier {
	return &StoreNotifier{store: store, now: time.Now}
}

// Deliver inserts the alert. An alert already archived counts as delivered,
// which happens after a restart with an empty dedup window.
func (n *StoreNotifier) Deliver(ctx context.Context, t domain.Trade) error {
	a := NewAlert(t, n.now())
	if err := n.store.Insert(ctx, &a); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("%w: archive alert: %w", domain.ErrNotify, err)
	}
	return nil
}
