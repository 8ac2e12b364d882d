// Package poller drives a pipeline on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/domain"
)

// Default configuration values.
const (
	DefaultInterval        = 5 * time.Second
	DefaultMaxAuthFailures = 3
)

// Stats is a snapshot of loop counters.
type Stats struct {
	Cycles        int64
	FetchErrors   int64
	TradesEmitted int64
	NotifyErrors  int64
	LastPollAt    time.Time
	LastSuccessAt time.Time
}

// Loop polls one target: fetch, process, deliver, sleep.
// Cycles never overlap.
type Loop struct {
	target          string
	source          DataSource
	processor       Processor
	notifier        Notifier
	recorder        Recorder
	interval        time.Duration
	maxAuthFailures int
	logger          logrus.FieldLogger

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	stats        Stats
	authFailures int
}

// Options contains configuration for creating a Loop.
type Options struct {
	Target          string
	Source          DataSource
	Processor       Processor
	Notifier        Notifier
	Recorder        Recorder // optional
	Interval        time.Duration
	MaxAuthFailures int
	Logger          logrus.FieldLogger
}

// New creates a poll loop.
func New(opts Options) (*Loop, error) {
	if opts.Source == nil || opts.Processor == nil || opts.Notifier == nil {
		return nil, errors.New("poller: source, processor and notifier are required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	maxAuth := opts.MaxAuthFailures
	if maxAuth <= 0 {
		maxAuth = DefaultMaxAuthFailures
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Loop{
		target:          opts.Target,
		source:          opts.Source,
		processor:       opts.Processor,
		notifier:        opts.Notifier,
		recorder:        opts.Recorder,
		interval:        interval,
		maxAuthFailures: maxAuth,
		logger:          logger.WithFields(logrus.Fields{"component": "poller", "target": opts.Target}),
		stopCh:          make(chan struct{}),
	}, nil
}

// Run blocks until Stop is called or ctx is cancelled. It returns nil
// after Stop, ctx.Err() after cancellation, and an error wrapping
// domain.ErrAuth when credentials cannot be recovered.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("poller: already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.logger.WithField("interval", l.interval).Info("Poll loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Poll loop cancelled")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("Poll loop stopped")
			return nil
		case <-timer.C:
		}

		// Stop wins over a timer that fired at the same time.
		select {
		case <-l.stopCh:
			l.logger.Info("Poll loop stopped")
			return nil
		default:
		}

		if err := l.cycle(ctx); err != nil {
			return err
		}
		timer.Reset(l.interval)
	}
}

// Stop requests termination before the next fetch. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// cycle runs one fetch/process/deliver round. Only an unrecoverable
// auth failure is returned.
func (l *Loop) cycle(ctx context.Context) error {
	start := time.Now()

	batch, err := l.source.FetchRecent(ctx, l.target)
	if err != nil {
		if ctx.Err() != nil {
			return nil // the outer select reports cancellation
		}
		if authErr := l.handleFetchError(ctx, err); authErr != nil {
			return authErr
		}
		batch = nil
	} else {
		l.mu.Lock()
		l.authFailures = 0
		l.mu.Unlock()
	}

	trades := l.process(ctx, batch)
	delivered := l.deliver(ctx, trades)

	l.mu.Lock()
	l.stats.Cycles++
	l.stats.TradesEmitted += int64(len(trades))
	l.stats.LastPollAt = start
	if err == nil {
		l.stats.LastSuccessAt = start
	}
	l.mu.Unlock()

	if l.recorder != nil {
		l.recorder.ObserveCycle(l.target, len(batch), len(trades), time.Since(start).Seconds())
		if err == nil {
			l.recorder.ObserveSuccess(l.target)
		}
	}

	if len(trades) > 0 {
		l.logger.WithFields(logrus.Fields{
			"fetched":   len(batch),
			"emitted":   len(trades),
			"delivered": delivered,
		}).Debug("Cycle complete")
	}
	return nil
}

// handleFetchError logs and counts a fetch failure. After too many
// consecutive auth failures it tries to re-authenticate and returns an
// error if that is impossible.
func (l *Loop) handleFetchError(ctx context.Context, err error) error {
	auth := errors.Is(err, domain.ErrAuth)

	l.mu.Lock()
	l.stats.FetchErrors++
	if auth {
		l.authFailures++
	} else {
		l.authFailures = 0
	}
	failures := l.authFailures
	l.mu.Unlock()

	if l.recorder != nil {
		l.recorder.ObserveFetchError(l.target, auth)
	}
	l.logger.WithError(err).Warn("Fetch failed, treating as empty batch")

	if !auth || failures < l.maxAuthFailures {
		return nil
	}

	re, ok := l.source.(Reauthenticator)
	if !ok {
		return fmt.Errorf("poller: %d consecutive auth failures: %w", failures, err)
	}
	if reErr := re.Reauthenticate(ctx); reErr != nil {
		return fmt.Errorf("poller: re-authenticate: %w", reErr)
	}

	l.logger.Info("Re-authenticated with provider")
	l.mu.Lock()
	l.authFailures = 0
	l.mu.Unlock()
	return nil
}

// process runs the pipeline, containing any panic to this cycle.
func (l *Loop) process(ctx context.Context, batch []domain.RawActivity) (trades []domain.Trade) {
	if len(batch) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Pipeline panicked, batch skipped")
			trades = nil
		}
	}()
	return l.processor.Process(ctx, batch)
}

// deliver sends each trade in order. A failed delivery never stops the rest.
func (l *Loop) deliver(ctx context.Context, trades []domain.Trade) int {
	delivered := 0
	for _, t := range trades {
		if err := l.notifyOne(ctx, t); err != nil {
			l.mu.Lock()
			l.stats.NotifyErrors++
			l.mu.Unlock()
			if l.recorder != nil {
				l.recorder.ObserveNotifyError(l.target)
			}
			l.logger.WithError(err).WithField("tx_id", t.TxID).Error("Alert delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

func (l *Loop) notifyOne(ctx context.Context, t domain.Trade) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: notifier panicked: %v", domain.ErrNotify, r)
		}
	}()
	return l.notifier.Deliver(ctx, t)
}
