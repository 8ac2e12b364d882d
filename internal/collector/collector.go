// Package collector walks the full signature history of an address,
// newest to oldest, and fetches transaction details at a paced rate.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/solana"
	"solana-swap-watch/internal/storage"
)

// Default configuration values.
const (
	DefaultPageSize    = 12
	DefaultPageDelay   = 5 * time.Second
	DefaultDetailDelay = 200 * time.Millisecond
)

// SignatureSource is the subset of the Solana RPC the collector needs.
type SignatureSource interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Recorder receives collector counters. Implemented by observability.Metrics.
type Recorder interface {
	ObserveCollectorPage(signatures int)
	ObserveCollectorDropped()
}

// Result summarizes one collection run.
type Result struct {
	Signatures   []solana.SignatureInfo
	Transactions []*solana.Transaction
	Pages        int
	Dropped      int
}

// Options contains configuration for creating a Collector.
type Options struct {
	Source      SignatureSource
	Store       storage.CollectedTransactionStore // optional
	Recorder    Recorder                          // optional
	PageSize    int
	PageDelay   time.Duration
	DetailDelay time.Duration
	Logger      logrus.FieldLogger
}

// Collector pages backward through getSignaturesForAddress using the
// before cursor. Requests are strictly sequential.
type Collector struct {
	source   SignatureSource
	store    storage.CollectedTransactionStore
	recorder Recorder
	pageSize int
	pages    *rate.Limiter
	details  *rate.Limiter
	logger   logrus.FieldLogger
}

// New creates a collector. Zero values take the defaults.
func New(opts Options) (*Collector, error) {
	if opts.Source == nil {
		return nil, errors.New("collector: signature source is required")
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageDelay := opts.PageDelay
	if pageDelay <= 0 {
		pageDelay = DefaultPageDelay
	}
	detailDelay := opts.DetailDelay
	if detailDelay <= 0 {
		detailDelay = DefaultDetailDelay
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Collector{
		source:   opts.Source,
		store:    opts.Store,
		recorder: opts.Recorder,
		pageSize: pageSize,
		pages:    rate.NewLimiter(rate.Every(pageDelay), 1),
		details:  rate.NewLimiter(rate.Every(detailDelay), 1),
		logger:   logger.WithField("component", "collector"),
	}, nil
}

// Run validates address, collects its signatures and fetches every
// transaction. A page error still returns what was gathered before it.
func (c *Collector) Run(ctx context.Context, address string) (*Result, error) {
	key, err := solana.ParsePublicKey(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"address":  address,
		"on_curve": key.IsOnCurve(),
	}).Info("Collecting signature history")

	sigs, pages, collectErr := c.collect(ctx, address)
	result := &Result{Signatures: sigs, Pages: pages}

	if len(sigs) > 0 && ctx.Err() == nil {
		result.Transactions, result.Dropped = c.fetchDetails(ctx, address, sigs)
	}

	failed := 0
	for _, s := range sigs {
		if s.Failed() {
			failed++
		}
	}

	c.logger.WithFields(logrus.Fields{
		"address":      address,
		"signatures":   len(result.Signatures),
		"failed":       failed,
		"transactions": len(result.Transactions),
		"pages":        result.Pages,
		"dropped":      result.Dropped,
	}).Info("Collection finished")

	return result, collectErr
}

// Collect returns every signature for address, newest first.
// On a page error the signatures gathered so far are returned with the error.
func (c *Collector) Collect(ctx context.Context, address string) ([]solana.SignatureInfo, error) {
	sigs, _, err := c.collect(ctx, address)
	return sigs, err
}

func (c *Collector) collect(ctx context.Context, address string) ([]solana.SignatureInfo, int, error) {
	var (
		all    []solana.SignatureInfo
		before string
		pages  int
	)

	for {
		if err := c.pages.Wait(ctx); err != nil {
			return all, pages, err
		}

		opts := &solana.SignaturesOpts{Before: before, Limit: c.pageSize}
		batch, err := c.source.GetSignaturesForAddress(ctx, address, opts)
		if err != nil {
			return all, pages, fmt.Errorf("%w: signatures page %d (before=%q): %w", domain.ErrFetch, pages+1, before, err)
		}
		pages++

		if c.recorder != nil {
			c.recorder.ObserveCollectorPage(len(batch))
		}
		c.logger.WithFields(logrus.Fields{
			"page":  pages,
			"count": len(batch),
		}).Debug("Fetched signatures page")

		if len(batch) == 0 {
			return all, pages, nil
		}
		all = append(all, batch...)

		if len(batch) < c.pageSize {
			return all, pages, nil
		}
		before = batch[len(batch)-1].Signature
	}
}

// FetchDetails fetches each transaction in order. Failures and unknown
// signatures are logged and skipped. Fetched transactions are archived
// when a store is configured.
func (c *Collector) FetchDetails(ctx context.Context, address string, sigs []solana.SignatureInfo) []*solana.Transaction {
	txs, _ := c.fetchDetails(ctx, address, sigs)
	return txs
}

func (c *Collector) fetchDetails(ctx context.Context, address string, sigs []solana.SignatureInfo) ([]*solana.Transaction, int) {
	txs := make([]*solana.Transaction, 0, len(sigs))
	dropped := 0

	for i, sig := range sigs {
		if err := c.details.Wait(ctx); err != nil {
			dropped += len(sigs) - i
			break
		}

		log := c.logger.WithFields(logrus.Fields{
			"signature": sig.Signature,
			"index":     i + 1,
			"total":     len(sigs),
		})

		tx, err := c.source.GetTransaction(ctx, sig.Signature)
		if err != nil || tx == nil {
			if err != nil {
				log = log.WithError(err)
			}
			log.Warn("Skipping transaction")
			dropped++
			if c.recorder != nil {
				c.recorder.ObserveCollectorDropped()
			}
			continue
		}
		if tx.Signature == "" {
			tx.Signature = sig.Signature
		}
		txs = append(txs, tx)

		if c.store != nil {
			c.archive(ctx, address, tx, log)
		}
	}

	return txs, dropped
}

func (c *Collector) archive(ctx context.Context, address string, tx *solana.Transaction, log logrus.FieldLogger) {
	err := c.store.Insert(ctx, ToCollected(address, tx))
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		log.WithError(err).Warn("Failed to archive transaction")
	}
}

// ToCollected flattens a transaction into its archived form.
func ToCollected(address string, tx *solana.Transaction) *domain.CollectedTransaction {
	ct := &domain.CollectedTransaction{
		Signature: tx.Signature,
		Address:   address,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
		Failed:    tx.Failed(),
	}
	if tx.Meta != nil {
		ct.LogMessages = tx.Meta.LogMessages
	}
	if tx.Message != nil {
		ct.AccountKeys = tx.Message.AccountKeys
	}
	return ct
}
