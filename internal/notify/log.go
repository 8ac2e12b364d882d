package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
)

// LogNotifier writes each trade to the structured log.
type LogNotifier struct {
	logger logrus.FieldLogger
}

// Compile-time interface check.
var _ poller.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger.WithField("component", "notify.log")}
}

// Deliver logs the trade at warning level so it stands out from poll noise.
func (n *LogNotifier) Deliver(_ context.Context, t domain.Trade) error {
	n.logger.WithFields(logrus.Fields{
		"tx_id":        t.TxID,
		"amount":       t.Amount.String(),
		"token_in":     t.TokenIn,
		"token_out":    t.TokenOut,
		"from_address": t.FromAddress,
		"block_time":   t.BlockTime.Unix(),
		"platform":     t.Platform,
	}).Warn(FormatMessage(t))
	return nil
}
