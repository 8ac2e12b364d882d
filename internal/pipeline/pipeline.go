// Package pipeline turns raw provider activities into deduplicated,
// threshold-filtered trades for a single target token.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/domain"
)

// Drop reasons reported to DropObserver.
const (
	DropNotSwap        = "not_swap"
	DropMalformed      = "malformed"
	DropDuplicate      = "duplicate"
	DropBelowThreshold = "below_threshold"
	DropDedupError     = "dedup_error"
)

// Deduper records transaction ids and reports whether one was unseen.
// IsNew must check and insert in one step.
type Deduper interface {
	IsNew(ctx context.Context, txID string) (bool, error)
}

// DropObserver is notified for every record that does not become a Trade.
type DropObserver interface {
	ObserveDrop(target, reason string)
}

// Pipeline processes raw activity batches for one target token.
// It is not safe for concurrent use; each poll loop owns its own Pipeline.
type Pipeline struct {
	classifier Classifier
	threshold  Threshold
	dedup      Deduper
	observer   DropObserver
	logger     logrus.FieldLogger
}

// Options contains configuration for creating a Pipeline.
type Options struct {
	Target             string
	Threshold          decimal.Decimal
	IncludeDirectSwaps bool
	Dedup              Deduper
	Observer           DropObserver // optional
	Logger             logrus.FieldLogger
}

// New creates a pipeline. Target and Dedup are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Target == "" {
		return nil, errors.New("pipeline: target is required")
	}
	if opts.Dedup == nil {
		return nil, errors.New("pipeline: dedup filter is required")
	}
	if opts.Threshold.IsNegative() {
		return nil, fmt.Errorf("pipeline: negative threshold %s", opts.Threshold)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Pipeline{
		classifier: Classifier{Target: opts.Target, IncludeDirectSwaps: opts.IncludeDirectSwaps},
		threshold:  NewThreshold(opts.Threshold),
		dedup:      opts.Dedup,
		observer:   opts.Observer,
		logger:     logger.WithFields(logrus.Fields{"component": "pipeline", "target": opts.Target}),
	}, nil
}

// Target returns the monitored token.
func (p *Pipeline) Target() string {
	return p.classifier.Target
}

// Process runs every record through classify, normalize, dedup and
// threshold, returning emitted trades in input order. A failing record
// is logged and skipped; the batch always completes.
func (p *Pipeline) Process(ctx context.Context, batch []domain.RawActivity) []domain.Trade {
	trades := make([]domain.Trade, 0, len(batch))
	for i := range batch {
		trade, reason, err := p.processOne(ctx, &batch[i])
		if err != nil {
			p.logger.WithError(err).WithField("tx_id", batch[i].TxID).Warn("Dropping activity")
		}
		if reason != "" {
			p.drop(reason)
			continue
		}
		trades = append(trades, trade)
	}
	return trades
}

// processOne returns either a trade or a non-empty drop reason.
func (p *Pipeline) processOne(ctx context.Context, raw *domain.RawActivity) (domain.Trade, string, error) {
	c, err := p.classifier.Classify(*raw)
	if err != nil {
		return domain.Trade{}, DropMalformed, err
	}
	if c == nil {
		return domain.Trade{}, DropNotSwap, nil
	}

	amount, err := Normalize(c.In.RawAmount, c.In.Decimals)
	if err != nil {
		return domain.Trade{}, DropMalformed, fmt.Errorf("normalize tx %s: %w", raw.TxID, err)
	}

	// Marked before the threshold check: a below-threshold id is never
	// reconsidered, and a failed delivery is not retried on the next poll.
	isNew, err := p.dedup.IsNew(ctx, raw.TxID)
	if err != nil {
		return domain.Trade{}, DropDedupError, fmt.Errorf("dedup tx %s: %w", raw.TxID, err)
	}
	if !isNew {
		return domain.Trade{}, DropDuplicate, nil
	}

	if !p.threshold.Passes(amount) {
		return domain.Trade{}, DropBelowThreshold, nil
	}

	return domain.Trade{
		TxID:        raw.TxID,
		BlockTime:   time.Unix(raw.BlockTime, 0).UTC(),
		FromAddress: raw.FromAddress,
		Amount:      amount,
		TokenIn:     c.In.Token,
		TokenOut:    c.Out.Token,
		Platform:    domain.JoinPlatforms(raw.Platform),
	}, "", nil
}

func (p *Pipeline) drop(reason string) {
	if p.observer != nil {
		p.observer.ObserveDrop(p.classifier.Target, reason)
	}
}
