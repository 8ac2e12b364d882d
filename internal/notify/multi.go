package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
)

// FailureObserver is told which notifier failed. Implemented by
// observability.Metrics.
type FailureObserver interface {
	ObserveNotifierFailure(notifier string)
}

// Named pairs a notifier with the label used in logs and metrics.
type Named struct {
	Name     string
	Notifier poller.Notifier
}

// Multi fans a trade out to every notifier. One failing notifier does
// not stop the others.
type Multi struct {
	notifiers []Named
	observer  FailureObserver
	logger    logrus.FieldLogger
}

// Compile-time interface check.
var _ poller.Notifier = (*Multi)(nil)

// NewMulti creates a fan-out notifier. observer may be nil.
func NewMulti(logger logrus.FieldLogger, observer FailureObserver, notifiers ...Named) *Multi {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Multi{
		notifiers: notifiers,
		observer:  observer,
		logger:    logger.WithField("component", "notify"),
	}
}

// Len returns the number of configured notifiers.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Deliver calls every notifier in order and joins their errors.
func (m *Multi) Deliver(ctx context.Context, t domain.Trade) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notifier.Deliver(ctx, t); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"notifier": n.Name,
				"tx_id":    t.TxID,
			}).Error("Notifier failed")
			if m.observer != nil {
				m.observer.ObserveNotifierFailure(n.Name)
			}
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if !errors.Is(err, domain.ErrNotify) {
		err = fmt.Errorf("%w: %w", domain.ErrNotify, err)
	}
	return err
}
