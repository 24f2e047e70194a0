package wsconn

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HandlerFunc serves one connection until it returns
type HandlerFunc func(ctx context.Context, conn Connection)

// Defaults applied to zero Config fields
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 20 * time.Second
	DefaultPongWait     = 60 * time.Second
)

// Config holds websocket server settings
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	// PingInterval is how often a ping is sent to the peer
	PingInterval time.Duration
	// PongWait is how long a silent peer is tolerated before the connection is dropped.
	// It must exceed PingInterval.
	PongWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 3 * c.PingInterval
	}
	return c
}

// Server upgrades HTTP requests and runs a handler per connection
type Server struct {
	upgrader websocket.Upgrader
	handler  HandlerFunc
	config   Config
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewServer creates a new Server instance
func NewServer(config Config, handler HandlerFunc, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handler: handler,
		config:  config.withDefaults(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ServeHTTP upgrades the request and blocks until the handler returns
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Any("error", err),
		)
		return
	}

	conn := NewConn(ws, s.config)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close(websocket.CloseGoingAway)
	}()

	s.logger.Debug("Connection accepted",
		slog.String("connection_id", conn.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	s.handler(ctx, conn)
	conn.Close(websocket.CloseNormalClosure)
}

// Shutdown cancels every handler and waits for them to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
