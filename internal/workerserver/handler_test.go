package workerserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/internal/storage/storagetest"
	"github.com/cuongbtq/powrelay/shared/broker"
	"github.com/cuongbtq/powrelay/shared/broker/brokertest"
	"github.com/cuongbtq/powrelay/shared/logger"
	"github.com/cuongbtq/powrelay/shared/wsconn"
	"github.com/cuongbtq/powrelay/shared/wsconn/wsconntest"
)

const (
	waitTimeout = 2 * time.Second
	handshake   = `{"ip":"10.0.0.1","address":"aleo1xyz","hardware":"rtx4090","hardware_id":"hw-1","caption":"rig-a"}`
)

type fixture struct {
	workers   *storagetest.WorkerStore
	jobs      *brokertest.Topic
	solutions *brokertest.Topic
	conn      *wsconntest.Conn
	done      chan struct{}
}

func start(t *testing.T, setup func(f *fixture)) *fixture {
	t.Helper()

	f := &fixture{
		workers:   &storagetest.WorkerStore{},
		jobs:      brokertest.NewTopic(),
		solutions: brokertest.NewTopic(),
		conn:      wsconntest.New("worker-1"),
		done:      make(chan struct{}),
	}
	if setup != nil {
		setup(f)
	}

	handler := NewHandler(&Config{
		Logger:    logger.NewDiscard().Logger,
		Workers:   f.workers,
		Jobs:      f.jobs,
		Solutions: f.solutions,
	})

	go func() {
		defer close(f.done)
		handler.Serve(context.Background(), f.conn)
	}()

	t.Cleanup(func() {
		f.conn.Hangup()
		<-f.done
	})
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(waitTimeout):
		t.Fatal("handler did not return")
	}
}

func (f *fixture) announce(t *testing.T, taskID string, height int64) {
	t.Helper()
	require.NoError(t, f.jobs.Produce(context.Background(), domain.JobAnnouncement{
		TaskID:         taskID,
		EpochChallenge: json.RawMessage(`{"epoch_number":` + string(mustJSON(t, height)) + `}`),
		BlockHeight:    height,
		CreatedAt:      time.Now(),
	}))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestServe_RejectsBadHandshake(t *testing.T) {
	f := start(t, nil)
	f.conn.Push(`{"ip":"10.0.0.1"}`)
	f.wait(t)

	code, closed := f.conn.CloseCode()
	require.True(t, closed)
	assert.Equal(t, wsconn.ClosePolicyViolation, code)

	connected, _ := f.workers.Snapshot()
	assert.Empty(t, connected)
	assert.Empty(t, f.jobs.Consumers())
}

func TestServe_RegisterFailureClosesConnection(t *testing.T) {
	f := start(t, func(f *fixture) {
		f.workers.ConnectErr = errors.New("db down")
	})
	f.conn.Push(handshake)
	f.wait(t)

	code, closed := f.conn.CloseCode()
	require.True(t, closed)
	assert.Equal(t, wsconn.CloseInternalError, code)
	assert.Empty(t, f.jobs.Consumers())
}

func TestServe_DispatchesByPriority(t *testing.T) {
	f := start(t, nil)
	f.conn.Push(handshake)

	f.announce(t, "t5", 5)
	f.announce(t, "t3", 3)
	f.announce(t, "t7", 7)
	f.announce(t, "t6", 6)

	var got []domain.JobOutput
	for i := 0; i < 2; i++ {
		msg, err := f.conn.Next(waitTimeout)
		require.NoError(t, err)

		var out domain.JobOutput
		require.NoError(t, json.Unmarshal(msg, &out))
		got = append(got, out)
	}

	assert.Equal(t, "t5", got[0].TaskID)
	assert.JSONEq(t, `{"epoch_number":5}`, string(got[0].EpochChallenge))
	assert.Equal(t, "t7", got[1].TaskID)

	_, err := f.conn.Next(50 * time.Millisecond)
	assert.Error(t, err)
}

func TestServe_QueuesStampedSolutions(t *testing.T) {
	f := start(t, nil)
	f.conn.Push(handshake)
	f.conn.Push(`{"task_id":"t1","solution":{"partial_solution":{}},"solution_target":10}`)
	f.conn.Push(`garbage`)
	f.conn.Push(`{"task_id":"t1","solution":{"partial_solution":{"nonce":99}},"solution_target":10}`)

	require.Eventually(t, func() bool { return len(f.solutions.Messages()) == 1 }, waitTimeout, time.Millisecond)

	solution, err := broker.Decode[domain.SolutionInput](f.solutions.Messages()[0])
	require.NoError(t, err)
	assert.Equal(t, "hw-1", solution.HardwareID)
	assert.Equal(t, "rig-a", solution.Caption)
	assert.Equal(t, "t1", solution.TaskID)
	assert.Equal(t, int64(10), solution.SolutionTarget)
	assert.True(t, f.conn.IsOpen())
}

func TestServe_ProduceFailureClosesConnection(t *testing.T) {
	f := start(t, func(f *fixture) {
		f.solutions.ProduceErr = errors.New("broker down")
	})
	f.conn.Push(handshake)
	f.conn.Push(`{"task_id":"t1","solution":{"partial_solution":{"nonce":1}},"solution_target":10}`)
	f.wait(t)

	code, closed := f.conn.CloseCode()
	require.True(t, closed)
	assert.Equal(t, wsconn.CloseInternalError, code)

	_, disconnected := f.workers.Snapshot()
	assert.Equal(t, []int64{1}, disconnected)
}

func TestServe_SendFailureKeepsJobEligible(t *testing.T) {
	f := start(t, nil)
	f.conn.FailSends(errors.New("broken pipe"))
	f.conn.Push(handshake)
	f.announce(t, "t5", 5)
	f.wait(t)

	code, closed := f.conn.CloseCode()
	require.True(t, closed)
	assert.Equal(t, wsconn.CloseInternalError, code)

	consumers := f.jobs.Consumers()
	require.Len(t, consumers, 1)
	assert.Empty(t, consumers[0].Commits())
	assert.True(t, consumers[0].Closed())
}

func TestServe_HangupRecordsDisconnectOnce(t *testing.T) {
	f := start(t, nil)
	f.conn.Push(handshake)

	require.Eventually(t, func() bool { return len(f.jobs.Consumers()) == 1 }, waitTimeout, time.Millisecond)
	f.conn.Hangup()
	f.wait(t)

	connected, disconnected := f.workers.Snapshot()
	require.Len(t, connected, 1)
	assert.Equal(t, "hw-1", connected[0].HardwareID)
	assert.Equal(t, []int64{1}, disconnected)
	assert.True(t, f.jobs.Consumers()[0].Closed())
}
