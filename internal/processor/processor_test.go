package processor

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
)

func testJob(height int64) domain.JobInput {
	return domain.JobInput{
		EpochChallenge: json.RawMessage(`{"epoch_number":1}`),
		ProofTarget:    5000,
		BlockHeight:    height,
	}
}

func testSolution(taskID string, nonce int) domain.SolutionInput {
	return domain.SolutionInput{
		HardwareID:     "hw",
		Caption:        "rig",
		TaskID:         taskID,
		Solution:       json.RawMessage(`{"partial_solution":{"nonce":` + jsonInt(nonce) + `}}`),
		SolutionTarget: 5000,
	}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

type flakyProducer struct {
	*brokertest.Topic
	failures int
}

func (p *flakyProducer) Produce(ctx context.Context, message any) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	return p.Topic.Produce(ctx, message)
}

func TestJobProcessor_Handle(t *testing.T) {
	store := storagetest.NewJobStore()
	topic := brokertest.NewTopic()
	processor := NewJobProcessor(store, topic, logger.NewDiscard().Logger)

	require.NoError(t, processor.Handle(context.Background(), testJob(42)))
	require.NoError(t, processor.Handle(context.Background(), testJob(42)))
	require.NoError(t, processor.Handle(context.Background(), testJob(43)))

	messages := topic.Messages()
	require.Len(t, messages, 2)

	announcement, err := broker.Decode[domain.JobAnnouncement](messages[0])
	require.NoError(t, err)
	assert.Equal(t, int64(42), announcement.BlockHeight)
	assert.JSONEq(t, `{"epoch_number":1}`, string(announcement.EpochChallenge))
	assert.NotEmpty(t, announcement.TaskID)
}

func TestJobProcessor_AnnounceFailureIsRetriedOnRedelivery(t *testing.T) {
	store := storagetest.NewJobStore()
	producer := &flakyProducer{Topic: brokertest.NewTopic(), failures: 1}
	processor := NewJobProcessor(store, producer, logger.NewDiscard().Logger)

	err := processor.Handle(context.Background(), testJob(7))
	require.Error(t, err)
	assert.Empty(t, producer.Messages())

	require.NoError(t, processor.Handle(context.Background(), testJob(7)))
	assert.Len(t, producer.Messages(), 1)
	assert.Equal(t, 1, store.Len())
}

func TestJobProcessor_StorageFailure(t *testing.T) {
	store := storagetest.NewJobStore()
	store.Err = errors.New("connection refused")
	topic := brokertest.NewTopic()

	err := NewJobProcessor(store, topic, logger.NewDiscard().Logger).Handle(context.Background(), testJob(1))

	assert.True(t, domain.IsStorageError(err))
	assert.Empty(t, topic.Messages())
}

func TestSolutionProcessor_Handle(t *testing.T) {
	jobs := storagetest.NewJobStore()
	_, stored, err := jobs.Store(context.Background(), testJob(42))
	require.NoError(t, err)

	tests := []struct {
		name          string
		solutions     []domain.SolutionInput
		wantAnnounced int
	}{
		{
			name:          "new solution is announced with the job height",
			solutions:     []domain.SolutionInput{testSolution(stored.TaskID, 1)},
			wantAnnounced: 1,
		},
		{
			name:          "duplicate solution is announced once",
			solutions:     []domain.SolutionInput{testSolution(stored.TaskID, 2), testSolution(stored.TaskID, 2)},
			wantAnnounced: 1,
		},
		{
			name:          "distinct nonces for the same task are both announced",
			solutions:     []domain.SolutionInput{testSolution(stored.TaskID, 3), testSolution(stored.TaskID, 4)},
			wantAnnounced: 2,
		},
		{
			name:          "unknown task is dropped",
			solutions:     []domain.SolutionInput{testSolution("missing", 5)},
			wantAnnounced: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := brokertest.NewTopic()
			processor := NewSolutionProcessor(storagetest.NewSolutionStore(), jobs, topic, logger.NewDiscard().Logger)

			for _, solution := range tt.solutions {
				require.NoError(t, processor.Handle(context.Background(), solution))
			}

			messages := topic.Messages()
			require.Len(t, messages, tt.wantAnnounced)
			for _, msg := range messages {
				announcement, err := broker.Decode[domain.SolutionAnnouncement](msg)
				require.NoError(t, err)
				assert.Equal(t, int64(42), announcement.SolutionHeight)
				assert.Equal(t, stored.TaskID, announcement.TaskID)
				assert.Equal(t, int64(5000), announcement.SolutionTarget)
			}
		})
	}
}

func TestSolutionProcessor_JobLookupFailure(t *testing.T) {
	jobs := storagetest.NewJobStore()
	jobs.Err = errors.New("timeout")
	topic := brokertest.NewTopic()
	processor := NewSolutionProcessor(storagetest.NewSolutionStore(), jobs, topic, logger.NewDiscard().Logger)

	err := processor.Handle(context.Background(), testSolution("task", 1))

	assert.True(t, domain.IsStorageError(err))
	assert.Empty(t, topic.Messages())
}

func TestWorker_ConsumesUntilCancelled(t *testing.T) {
	queue := brokertest.NewTopic()
	jobs := storagetest.NewJobStore()
	announced := brokertest.NewTopic()

	worker := NewWorker(&Config[domain.JobInput]{
		Logger:      logger.NewDiscard().Logger,
		Consumers:   queue,
		Handler:     NewJobProcessor(jobs, announced, logger.NewDiscard().Logger).Handle,
		Concurrency: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	require.NoError(t, queue.Produce(context.Background(), testJob(10)))
	require.NoError(t, queue.Produce(context.Background(), []byte(`garbage`)))
	require.NoError(t, queue.Produce(context.Background(), testJob(11)))

	require.Eventually(t, func() bool { return len(announced.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_DisconnectIsFatal(t *testing.T) {
	queue := brokertest.NewTopic()
	queue.Close(context.Background())

	worker := NewWorker(&Config[domain.JobInput]{
		Logger:      logger.NewDiscard().Logger,
		Consumers:   queue,
		Handler:     func(context.Context, domain.JobInput) error { return nil },
		Concurrency: 2,
	})

	err := worker.Start(context.Background())
	assert.ErrorIs(t, err, broker.ErrDisconnected)
}
