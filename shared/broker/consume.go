package broker

import (
	"context"
	"log/slog"
)

// Handler processes one decoded message
type Handler[T any] func(ctx context.Context, msg T) error

// Consume drains consumer until ctx ends or the transport fails.
//
// Undecodable messages are committed and skipped. A handler error rejects the
// message without committing it so the broker redelivers it. A successful
// handler commits exactly once. Fetch and commit failures end the loop.
func Consume[T any](ctx context.Context, consumer Consumer, handler Handler[T], logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivery, err := consumer.Fetch(ctx)
		if err != nil {
			return err
		}

		msg, err := Decode[T](delivery.Body())
		if err != nil {
			logger.Warn("Skipping message with unknown format",
				slog.Any("error", err),
				slog.Int("body_size", len(delivery.Body())),
			)
			if err := consumer.Commit(ctx, delivery); err != nil {
				return err
			}
			consumedMessages.WithLabelValues(outcomeSkipped).Inc()
			continue
		}

		if err := handler(ctx, msg); err != nil {
			if IsTerminal(err) && ctx.Err() != nil {
				return ctx.Err()
			}

			logger.Error("Failed to handle message, leaving it for redelivery",
				slog.Any("error", err),
			)
			if err := consumer.Reject(ctx, delivery); err != nil {
				return err
			}
			consumedMessages.WithLabelValues(outcomeRejected).Inc()
			continue
		}

		if err := consumer.Commit(ctx, delivery); err != nil {
			return err
		}
		consumedMessages.WithLabelValues(outcomeCommitted).Inc()
	}
}
