package queue_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"gigchat/backend/internal/models"
	"gigchat/backend/internal/queue"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisQueue uses a unique stream per test against REDIS_URL.
func newRedisQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	q, err := queue.NewRedisQueue(context.Background(), client, zerolog.Nop())
	require.NoError(t, err)

	suffix := ulid.Make().String()
	q.Stream = "test:jobs:" + suffix
	q.DeadStream = "test:jobs:dead:" + suffix
	q.RedeliveryDelay = 50 * time.Millisecond
	q.Block = 50 * time.Millisecond
	q.MaxDeliveries = 3
	require.NoError(t, client.XGroupCreateMkStream(context.Background(), q.Stream, q.Group, "0").Err())
	t.Cleanup(func() { client.Del(context.Background(), q.Stream, q.DeadStream) })
	return q
}

func TestRedisQueue_RedeliversUntilSuccess(t *testing.T) {
	q := newRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, sampleJob("R1"))
	require.NoError(t, err)

	var calls atomic.Int32
	done := make(chan models.QueueJob, 1)
	go q.Consume(ctx, "c1", func(_ context.Context, job models.QueueJob) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		done <- job
		return nil
	})

	select {
	case job := <-done:
		assert.Equal(t, "R1", job.RoomID)
		assert.GreaterOrEqual(t, job.Attempt, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not redelivered")
	}
}

func TestRedisQueue_DeadLetters(t *testing.T) {
	q := newRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, sampleJob("R9"))
	require.NoError(t, err)

	go q.Consume(ctx, "c1", func(context.Context, models.QueueJob) error {
		return queue.Permanent(errors.New("malformed"))
	})

	assert.Eventually(t, func() bool {
		dead, err := q.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1 && dead[0].Job.RoomID == "R9"
	}, 5*time.Second, 20*time.Millisecond)
}
