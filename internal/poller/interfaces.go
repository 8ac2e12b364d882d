package poller

import (
	"context"

	"solana-swap-watch/internal/domain"
)

// DataSource returns the most recent raw activities for a token.
// Errors should wrap domain.ErrFetch or domain.ErrAuth.
type DataSource interface {
	FetchRecent(ctx context.Context, target string) ([]domain.RawActivity, error)
}

// Reauthenticator is implemented by sources that can refresh credentials
// after repeated auth failures.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Notifier delivers one alert per trade.
type Notifier interface {
	Deliver(ctx context.Context, trade domain.Trade) error
}

// Processor turns a raw batch into trades. Implemented by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, batch []domain.RawActivity) []domain.Trade
}

// Recorder receives per-cycle observations. Implemented by observability.
type Recorder interface {
	ObserveCycle(target string, fetched, emitted int, seconds float64)
	ObserveFetchError(target string, auth bool)
	ObserveNotifyError(target string)
	ObserveSuccess(target string)
}
