package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/powrelay/shared/logger"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewClient(context.Background(), &Config{
		Host:        mr.Host(),
		Port:        port,
		DialTimeout: time.Second,
	}, logger.NewDiscard().Logger)
	require.NoError(t, err)

	require.NoError(t, client.HealthCheck(context.Background()))
	require.NoError(t, client.GetClient().Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close())
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	host := mr.Host()
	mr.Close()

	client, err := NewClient(context.Background(), &Config{
		Host:        host,
		Port:        port,
		DialTimeout: 100 * time.Millisecond,
	}, logger.NewDiscard().Logger)

	require.Error(t, err)
	assert.Nil(t, client)
}
