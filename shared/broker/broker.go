package broker

import (
	"context"
	"errors"
)

// ErrDisconnected reports that the underlying transport is gone. It is never retried.
var ErrDisconnected = errors.New("broker disconnected")

// DecodeError wraps a payload that could not be decoded into the expected message shape
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "failed to decode message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Delivery is a single message fetched from a subscription
type Delivery interface {
	Body() []byte
}

// Consumer reads one subscription. Fetch blocks until a message arrives.
// Commit acknowledges a handled delivery; Reject leaves it for redelivery.
type Consumer interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, delivery Delivery) error
	Reject(ctx context.Context, delivery Delivery) error
	Close(ctx context.Context)
}

// ConsumerFactory opens a fresh subscription owned by the caller, who must Close it
type ConsumerFactory interface {
	Spawn(ctx context.Context) (Consumer, error)
}

// Producer publishes messages. Anything other than []byte is encoded with Encode.
type Producer interface {
	Produce(ctx context.Context, message any) error
	Close(ctx context.Context)
}

// IsTerminal reports whether err means the caller is shutting down rather than failing
func IsTerminal(err error) bool {
	return errors.Is(err, ErrDisconnected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
