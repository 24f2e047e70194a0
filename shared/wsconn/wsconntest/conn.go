// Package wsconntest provides an in-memory wsconn.Connection for tests.
package wsconntest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/powrelay/shared/wsconn"
)

// Conn is an in-memory connection. Push feeds it as if the peer sent a
// message; Next reads what the server sent.
type Conn struct {
	id       string
	inbound  chan []byte
	outbound chan []byte
	hangup   chan struct{}
	closed   chan struct{}

	receives atomic.Int64

	mu        sync.Mutex
	closeCode int
	hungUp    bool
	sendErr   error
}

// New creates an open connection
func New(id string) *Conn {
	return &Conn{
		id:       id,
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		hangup:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// ID returns the connection identifier
func (c *Conn) ID() string {
	return c.id
}

// Push delivers a message from the peer
func (c *Conn) Push(message string) {
	c.inbound <- []byte(message)
}

// Hangup simulates the peer going away once queued messages are read
func (c *Conn) Hangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hungUp {
		c.hungUp = true
		close(c.hangup)
	}
}

// FailSends makes every later Send return err
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send records a message for the peer
func (c *Conn) Send(ctx context.Context, message []byte) error {
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if !c.IsOpen() {
		return wsconn.ErrClosed
	}

	select {
	case c.outbound <- append([]byte(nil), message...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next pushed message, or io.EOF after Hangup or Close
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.receives.Add(1)

	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.hangup:
		return nil, io.EOF
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close records code; later calls are no-ops
func (c *Conn) Close(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil
	default:
	}
	c.closeCode = code
	close(c.closed)
	return nil
}

// IsOpen reports whether neither side has closed
func (c *Conn) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	case <-c.hangup:
		return false
	default:
		return true
	}
}

// CloseCode returns the code passed to Close, if any
func (c *Conn) CloseCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return c.closeCode, true
	default:
		return 0, false
	}
}

// Next waits up to timeout for a message sent to the peer
func (c *Conn) Next(timeout time.Duration) ([]byte, error) {
	select {
	case msg := <-c.outbound:
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.New("no message sent within timeout")
	}
}

// ReceiveCalls counts Receive calls, letting tests wait until the server has
// finished with the previous message
func (c *Conn) ReceiveCalls() int {
	return int(c.receives.Load())
}

// Done is closed once the server closes the connection
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
