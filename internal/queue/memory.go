package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"gigchat/backend/internal/config"
	"gigchat/backend/internal/metrics"
	"gigchat/backend/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ErrRedeliveryFull is the dead-letter reason for a retried job that found
// the buffer full.
var ErrRedeliveryFull = errors.New("redelivery buffer full")

type memoryEntry struct {
	id         string
	job        models.QueueJob
	deliveries int
}

// MemoryQueue is a process-local Queue with the same redelivery and
// dead-letter rules as RedisQueue. Jobs do not survive a restart, so it is
// meant for development and tests.
type MemoryQueue struct {
	ready  chan *memoryEntry
	logger zerolog.Logger

	RedeliveryDelay time.Duration
	MaxDeliveries   int

	mu   sync.Mutex
	dead []DeadLetter
}

func NewMemoryQueue(capacity int, logger zerolog.Logger) *MemoryQueue {
	return &MemoryQueue{
		ready:           make(chan *memoryEntry, capacity),
		logger:          logger.With().Str("component", "queue").Logger(),
		RedeliveryDelay: config.RedeliveryDelay,
		MaxDeliveries:   config.MaxDeliveries,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.QueueJob) (string, error) {
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	e := &memoryEntry{id: job.ID, job: job}
	select {
	case q.ready <- e:
		return e.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, consumer string, handler Handler) error {
	log := q.logger.With().Str("consumer", consumer).Logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-q.ready:
			q.process(ctx, log, e, handler)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, log zerolog.Logger, e *memoryEntry, handler Handler) {
	e.deliveries++
	job := e.job
	job.Attempt = e.deliveries

	err := handler(ctx, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues("ok").Inc()
		return
	}

	if IsPermanent(err) || e.deliveries >= q.MaxDeliveries {
		q.deadLetter(log, e, err.Error())
		return
	}

	metrics.JobsProcessed.WithLabelValues("retry").Inc()
	log.Warn().Err(err).Str("job_id", e.id).Int("attempt", e.deliveries).Msg("job failed, will be redelivered")
	time.AfterFunc(q.RedeliveryDelay, func() { q.redeliver(log, e) })
}

// redeliver never blocks: with the buffer full the job goes to the dead
// letters instead of parking a timer goroutine forever.
func (q *MemoryQueue) redeliver(log zerolog.Logger, e *memoryEntry) {
	select {
	case q.ready <- e:
	default:
		q.deadLetter(log, e, ErrRedeliveryFull.Error())
	}
}

func (q *MemoryQueue) deadLetter(log zerolog.Logger, e *memoryEntry, reason string) {
	q.mu.Lock()
	q.dead = append(q.dead, DeadLetter{ID: e.id, Job: e.job, Reason: reason, FailedAt: time.Now()})
	q.mu.Unlock()
	metrics.JobsProcessed.WithLabelValues("dead").Inc()
	log.Error().Str("job_id", e.id).Str("reason", reason).Msg("job dead-lettered")
}

func (q *MemoryQueue) DeadLetters(_ context.Context, n int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetter, 0, n)
	for i := len(q.dead) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}
