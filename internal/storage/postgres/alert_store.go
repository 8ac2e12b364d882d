package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/storage"
)

// AlertStore implements storage.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

const alertColumns = `alert_id, target, tx_id, block_time, from_address, amount::text, token_in, token_out, platform, detected_at`

// Insert adds a new alert. Returns ErrDuplicateKey if (target, tx_id) exists.
func (s *AlertStore) Insert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.Trade.TxID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO swap_alerts (
			alert_id, target, tx_id, block_time, from_address, amount, token_in, token_out, platform, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		a.AlertID,
		a.Target,
		a.Trade.TxID,
		a.Trade.BlockTime,
		a.Trade.FromAddress,
		a.Trade.Amount.String(),
		a.Trade.TokenIn,
		a.Trade.TokenOut,
		a.Trade.Platform,
		a.DetectedAt,
	)
	return mapError("insert alert", err)
}

// GetByTxID retrieves the alert for a transaction. Returns ErrNotFound if not exists.
func (s *AlertStore) GetByTxID(ctx context.Context, target, txID string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM swap_alerts WHERE target = $1 AND tx_id = $2`

	a, err := scanAlert(s.pool.QueryRow(ctx, query, target, txID))
	if err != nil {
		return nil, mapError("get alert by tx id", err)
	}
	return a, nil
}

// ListRecent returns up to limit alerts for a target, newest block time first.
func (s *AlertStore) ListRecent(ctx context.Context, target string, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM swap_alerts
		WHERE target = $1
		ORDER BY block_time DESC, tx_id ASC
	`
	args := []any{target}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a      domain.Alert
		amount string
	)
	err := row.Scan(
		&a.AlertID,
		&a.Target,
		&a.Trade.TxID,
		&a.Trade.BlockTime,
		&a.Trade.FromAddress,
		&amount,
		&a.Trade.TokenIn,
		&a.Trade.TokenOut,
		&a.Trade.Platform,
		&a.DetectedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Trade.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	a.Trade.BlockTime = a.Trade.BlockTime.UTC()
	a.DetectedAt = a.DetectedAt.UTC()
	return &a, nil
}
