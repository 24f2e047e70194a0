package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/powrelay/internal/config"
	"github.com/cuongbtq/powrelay/shared/logger"
)

func TestServe_ShutdownRunsHooks(t *testing.T) {
	cfg := config.ServerConfig{Port: 0, ShutdownTimeout: time.Second}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())
	srv.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())

	var hooked []string
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, srv, cfg, logger.NewDiscard().Logger,
			func(context.Context) error { hooked = append(hooked, "websocket"); return nil },
			func(context.Context) error { hooked = append(hooked, "broker"); return nil },
		)
	}()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, []string{"websocket", "broker"}, hooked)
}

func TestServe_HookErrorsAreJoined(t *testing.T) {
	cfg := config.ServerConfig{ShutdownTimeout: time.Second}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())
	srv.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Serve(ctx, srv, cfg, logger.NewDiscard().Logger,
		func(context.Context) error { return errors.New("handlers still running") },
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handlers still running")
}

func TestServe_ListenFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := config.ServerConfig{ShutdownTimeout: time.Second}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())
	srv.Addr = listener.Addr().String()

	err = Serve(context.Background(), srv, cfg, logger.NewDiscard().Logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server failed")
}

func TestSetGinMode(t *testing.T) {
	defer gin.SetMode(gin.TestMode)

	SetGinMode("production")
	assert.Equal(t, gin.ReleaseMode, gin.Mode())

	SetGinMode("development")
	assert.Equal(t, gin.DebugMode, gin.Mode())
}
