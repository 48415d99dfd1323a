package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gigchat/backend/internal/models"
	"gigchat/backend/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryQueue() *queue.MemoryQueue {
	q := queue.NewMemoryQueue(16, zerolog.Nop())
	q.RedeliveryDelay = 10 * time.Millisecond
	q.MaxDeliveries = 3
	return q
}

func sampleJob(room string) models.QueueJob {
	return models.QueueJob{
		RoomID:     room,
		SenderID:   "7",
		ReceiverID: "42",
		Entries:    models.Transcript{"10:01": {SenderID: "7", Text: "hi"}},
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := fmt.Errorf("handle: %w", queue.Permanent(base))

	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, queue.IsPermanent(base))
	assert.Nil(t, queue.Permanent(nil))
}

func TestMemoryQueue_DeliversAndAssignsID(t *testing.T) {
	q := newMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := q.Enqueue(ctx, sampleJob("R1"))
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	got := make(chan models.QueueJob, 1)
	go q.Consume(ctx, "c1", func(_ context.Context, job models.QueueJob) error {
		got <- job
		return nil
	})

	select {
	case job := <-got:
		assert.Equal(t, handle, job.ID)
		assert.Equal(t, "R1", job.RoomID)
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestMemoryQueue_RedeliversFailedJobs(t *testing.T) {
	q := newMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	go q.Consume(ctx, "c1", func(_ context.Context, job models.QueueJob) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job.Attempt)
		if job.Attempt < 2 {
			return errors.New("store unavailable")
		}
		close(done)
		return nil
	})

	_, err := q.Enqueue(ctx, sampleJob("R1"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job was not redelivered")
	}
	mu.Lock()
	assert.Equal(t, []int{1, 2}, attempts)
	mu.Unlock()

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestMemoryQueue_DeadLettersAfterMaxDeliveries(t *testing.T) {
	q := newMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Consume(ctx, "c1", func(context.Context, models.QueueJob) error {
		calls.Add(1)
		return errors.New("still down")
	})

	_, err := q.Enqueue(ctx, sampleJob("R1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		dead, _ := q.DeadLetters(ctx, 10)
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())

	dead, _ := q.DeadLetters(ctx, 10)
	assert.Equal(t, "R1", dead[0].Job.RoomID)
	assert.Equal(t, "still down", dead[0].Reason)
}

func TestMemoryQueue_PermanentErrorSkipsRetries(t *testing.T) {
	q := newMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Consume(ctx, "c1", func(context.Context, models.QueueJob) error {
		calls.Add(1)
		return queue.Permanent(errors.New("malformed"))
	})

	_, err := q.Enqueue(ctx, sampleJob("R1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		dead, _ := q.DeadLetters(ctx, 10)
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestMemoryQueue_EnqueueRespectsContext(t *testing.T) {
	q := queue.NewMemoryQueue(1, zerolog.Nop())
	_, err := q.Enqueue(context.Background(), sampleJob("R1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, sampleJob("R2"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_DeadLettersNewestFirst(t *testing.T) {
	q := newMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan struct{}, 3)
	go q.Consume(ctx, "c1", func(context.Context, models.QueueJob) error {
		defer func() { processed <- struct{}{} }()
		return queue.Permanent(errors.New("nope"))
	})

	for _, room := range []string{"R1", "R2", "R3"} {
		_, err := q.Enqueue(ctx, sampleJob(room))
		require.NoError(t, err)
		<-processed
	}

	assert.Eventually(t, func() bool {
		dead, _ := q.DeadLetters(ctx, 10)
		return len(dead) == 3
	}, time.Second, 5*time.Millisecond)

	dead, err := q.DeadLetters(ctx, 2)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, "R3", dead[0].Job.RoomID)
	assert.Equal(t, "R2", dead[1].Job.RoomID)
}

func TestMemoryQueue_RedeliveryIntoFullBufferDeadLetters(t *testing.T) {
	q := queue.NewMemoryQueue(1, zerolog.Nop())
	q.RedeliveryDelay = 50 * time.Millisecond
	q.MaxDeliveries = 5

	ctx, cancel := context.WithCancel(context.Background())
	_, err := q.Enqueue(ctx, sampleJob("R1"))
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		q.Consume(ctx, "c1", func(context.Context, models.QueueJob) error {
			cancel()
			return errors.New("store down")
		})
		close(stopped)
	}()
	<-stopped

	// Nobody consumes any more and the buffer is full again.
	_, err = q.Enqueue(context.Background(), sampleJob("R2"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		dead, _ := q.DeadLetters(context.Background(), 10)
		return len(dead) == 1 && dead[0].Job.RoomID == "R1" && dead[0].Reason == queue.ErrRedeliveryFull.Error()
	}, time.Second, 5*time.Millisecond)
}
