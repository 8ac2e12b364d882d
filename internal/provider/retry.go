// Package provider holds the HTTP plumbing shared by the activity data sources.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"solana-swap-watch/internal/domain"
)

// Retry describes how a provider request is retried.
// Transport errors, 429 and 5xx are retried; 401/403 map to domain.ErrAuth;
// any other non-200 status fails immediately with domain.ErrFetch.
type Retry struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (r Retry) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialDelay > 0 {
		b.InitialInterval = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		b.MaxInterval = r.MaxDelay
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.MaxRetries)), ctx)
}

// Do sends the request built by newReq and returns the 200 response body.
// name prefixes status errors ("solscan status 502: ...").
func (r Retry) Do(ctx context.Context, client *http.Client, name string, newReq func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: create request: %v", domain.ErrFetch, err))
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: http request: %w", domain.ErrFetch, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %w", domain.ErrFetch, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body = b
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: %s status %d: %s", domain.ErrAuth, name, resp.StatusCode, Truncate(b)))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s status %d: %s", domain.ErrFetch, name, resp.StatusCode, Truncate(b))
		default:
			return backoff.Permanent(fmt.Errorf("%w: %s status %d: %s", domain.ErrFetch, name, resp.StatusCode, Truncate(b)))
		}
	}

	if err := backoff.Retry(op, r.backOff(ctx)); err != nil {
		if !errors.Is(err, domain.ErrFetch) && !errors.Is(err, domain.ErrAuth) {
			// Retry returns the bare context error once ctx is done.
			return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
		return nil, err
	}
	return body, nil
}

// Truncate shortens a response body for inclusion in an error message.
func Truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
