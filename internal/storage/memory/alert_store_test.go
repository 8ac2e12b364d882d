package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/storage"
)

func newAlert(target, txID string, blockTime int64) *domain.Alert {
	return &domain.Alert{
		AlertID:    "alert-" + txID,
		Target:     target,
		DetectedAt: time.Unix(blockTime+5, 0).UTC(),
		Trade: domain.Trade{
			TxID:      txID,
			BlockTime: time.Unix(blockTime, 0).UTC(),
			Amount:    decimal.RequireFromString("4500.5"),
			TokenIn:   target,
			TokenOut:  "So11111111111111111111111111111111111111112",
		},
	}
}

func TestAlertStore_InsertAndGet(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	if err := store.Insert(ctx, newAlert("mintA", "tx1", 1000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByTxID(ctx, "mintA", "tx1")
	if err != nil {
		t.Fatalf("GetByTxID failed: %v", err)
	}
	if !got.Trade.Amount.Equal(decimal.RequireFromString("4500.5")) {
		t.Errorf("Expected amount 4500.5, got %s", got.Trade.Amount)
	}

	if _, err := store.GetByTxID(ctx, "mintB", "tx1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for other target, got %v", err)
	}
}

func TestAlertStore_Duplicate(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	if err := store.Insert(ctx, newAlert("mintA", "tx1", 1000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, newAlert("mintA", "tx1", 1000)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	// Same tx under another target is a different alert.
	if err := store.Insert(ctx, newAlert("mintB", "tx1", 1000)); err != nil {
		t.Errorf("Insert for other target failed: %v", err)
	}
}

func TestAlertStore_InvalidInput(t *testing.T) {
	store := NewAlertStore()
	if err := store.Insert(context.Background(), nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestAlertStore_ListRecent(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	for i, ts := range []int64{1000, 3000, 2000} {
		a := newAlert("mintA", string(rune('a'+i)), ts)
		if err := store.Insert(ctx, a); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := store.Insert(ctx, newAlert("mintB", "z", 9000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.ListRecent(ctx, "mintA", 2)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(got))
	}
	if got[0].Trade.TxID != "b" || got[1].Trade.TxID != "c" {
		t.Errorf("Expected [b c], got [%s %s]", got[0].Trade.TxID, got[1].Trade.TxID)
	}
}
