// Package wsconn wraps gorilla/websocket connections behind a small
// send/receive/close contract and serves them over HTTP.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// CloseInternalError closes a connection after an unrecoverable processing fault
	CloseInternalError = websocket.CloseInternalServerErr
	// ClosePolicyViolation closes a connection whose handshake was rejected
	ClosePolicyViolation = 3000
)

// ErrClosed is returned when sending on a closed connection
var ErrClosed = errors.New("connection closed")

// Connection is an ordered, full-duplex message stream.
// Receive returns io.EOF once the peer has gone.
type Connection interface {
	ID() string
	Send(ctx context.Context, message []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close(code int) error
	IsOpen() bool
}

// Conn is a Connection over a gorilla websocket
type Conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn wraps an upgraded websocket and starts its keepalive. The peer must
// answer pings or send data within PongWait, otherwise Receive returns io.EOF.
func NewConn(ws *websocket.Conn, config Config) *Conn {
	config = config.withDefaults()

	c := &Conn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: config.WriteTimeout,
		pongWait:     config.PongWait,
		done:         make(chan struct{}),
	}

	c.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.pingLoop(config.PingInterval)
	return c
}

func (c *Conn) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
}

// pingLoop runs until the connection is closed or a ping cannot be written
func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			if err != nil {
				return
			}
		}
	}
}

// ID returns the connection identifier used in logs
func (c *Conn) ID() string {
	return c.id
}

// Send writes one text message. Concurrent senders are serialized.
func (c *Conn) Send(ctx context.Context, message []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive blocks for the next message. Reads are not cancellable; the server
// closes the connection when the handler context ends, which unblocks them.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.closed.Store(true)
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("peer stopped answering pings: %w", io.EOF)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}

	c.extendReadDeadline()
	return data, nil
}

// Close sends a close frame with code and closes the socket. Only the first call has effect.
func (c *Conn) Close(code int) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsOpen reports whether the connection can still be used
func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}
