package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/storage"
)

// AlertStore implements storage.AlertStore using ClickHouse.
type AlertStore struct {
	conn *Conn
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(conn *Conn) *AlertStore {
	return &AlertStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

const alertColumns = `alert_id, target, tx_id, block_time, from_address, amount, token_in, token_out, platform, detected_at`

// Insert adds a new alert. Returns ErrDuplicateKey if (target, tx_id) exists.
func (s *AlertStore) Insert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.Trade.TxID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would collapse the row, but alerts are append-only.
	exists, err := s.exists(ctx, a.Target, a.Trade.TxID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO swap_alerts (`+alertColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		a.AlertID,
		a.Target,
		a.Trade.TxID,
		a.Trade.BlockTime,
		a.Trade.FromAddress,
		a.Trade.Amount,
		a.Trade.TokenIn,
		a.Trade.TokenOut,
		a.Trade.Platform,
		a.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetByTxID retrieves the alert for a transaction. Returns ErrNotFound if not exists.
func (s *AlertStore) GetByTxID(ctx context.Context, target, txID string) (*domain.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM swap_alerts FINAL
		WHERE target = ? AND tx_id = ?
		LIMIT 1
	`

	var a domain.Alert
	err := s.conn.QueryRow(ctx, query, target, txID).Scan(alertDest(&a)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get alert by tx id: %w", err)
	}
	normalizeTimes(&a)
	return &a, nil
}

// ListRecent returns up to limit alerts for a target, newest block time first.
func (s *AlertStore) ListRecent(ctx context.Context, target string, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM swap_alerts FINAL
		WHERE target = ?
		ORDER BY block_time DESC, tx_id ASC
	`
	args := []interface{}{target}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(alertDest(&a)...); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		normalizeTimes(&a)
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return alerts, nil
}

func (s *AlertStore) exists(ctx context.Context, target, txID string) (bool, error) {
	query := `SELECT count(*) FROM swap_alerts FINAL WHERE target = ? AND tx_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, target, txID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func alertDest(a *domain.Alert) []interface{} {
	return []interface{}{
		&a.AlertID,
		&a.Target,
		&a.Trade.TxID,
		&a.Trade.BlockTime,
		&a.Trade.FromAddress,
		&a.Trade.Amount,
		&a.Trade.TokenIn,
		&a.Trade.TokenOut,
		&a.Trade.Platform,
		&a.DetectedAt,
	}
}

func normalizeTimes(a *domain.Alert) {
	a.Trade.BlockTime = a.Trade.BlockTime.UTC()
	a.DetectedAt = a.DetectedAt.UTC()
}
