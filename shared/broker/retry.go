package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// ConnectAttempts bounds retries while opening a transport
	ConnectAttempts = 5
	// OperationAttempts bounds retries of steady-state fetch, commit and publish
	OperationAttempts = 3
)

var (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// Retry runs op up to attempts times with exponential backoff.
// ErrDisconnected and context errors stop immediately and are returned unchanged.
func Retry(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
}

// IsDisconnected reports whether err carries ErrDisconnected
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
