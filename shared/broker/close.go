package broker

import (
	"log/slog"
	"time"
)

const defaultCloseTimeout = 5 * time.Second

// CloseWithin runs closeFn but stops waiting after timeout. Shutdown must
// always complete, so a timeout is not an error and other failures are only logged.
func CloseWithin(timeout time.Duration, closeFn func() error, logger *slog.Logger, what string) {
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}

	done := make(chan error, 1)
	go func() { done <- closeFn() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Failed to close "+what,
				slog.Any("error", err),
			)
			return
		}
		logger.Debug("Closed " + what)
	case <-time.After(timeout):
		logger.Debug("Timed out closing "+what,
			slog.Duration("timeout", timeout),
		)
	}
}
