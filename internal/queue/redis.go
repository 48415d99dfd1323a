package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigchat/backend/internal/config"
	"gigchat/backend/internal/metrics"
	"gigchat/backend/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const jobField = "job"

// RedisQueue stores jobs in a Redis stream read through a consumer group.
// Unacknowledged entries stay in the group's pending list and are claimed
// again by any consumer once they have been idle for RedeliveryDelay.
type RedisQueue struct {
	client *redis.Client
	logger zerolog.Logger

	Stream          string
	DeadStream      string
	Group           string
	RedeliveryDelay time.Duration
	MaxDeliveries   int
	Block           time.Duration
	Batch           int64
}

// NewRedisQueue creates the consumer group if needed.
func NewRedisQueue(ctx context.Context, client *redis.Client, logger zerolog.Logger) (*RedisQueue, error) {
	q := &RedisQueue{
		client:          client,
		logger:          logger.With().Str("component", "queue").Logger(),
		Stream:          config.JobStream,
		DeadStream:      config.DeadLetterStream,
		Group:           config.ConsumerGroup,
		RedeliveryDelay: config.RedeliveryDelay,
		MaxDeliveries:   config.MaxDeliveries,
		Block:           config.ConsumeBlock,
		Batch:           config.ConsumeBatch,
	}

	err := client.XGroupCreateMkStream(ctx, q.Stream, q.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

// Enqueue appends the job to the stream. The returned handle is the stream
// entry id.
func (q *RedisQueue) Enqueue(ctx context.Context, job models.QueueJob) (string, error) {
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]interface{}{jobField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return id, nil
}

// Consume reads new entries for this consumer and periodically claims
// entries abandoned by failed handlers or dead consumers.
func (q *RedisQueue) Consume(ctx context.Context, consumer string, handler Handler) error {
	log := q.logger.With().Str("consumer", consumer).Logger()
	log.Info().Msg("consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		q.reclaim(ctx, consumer, handler)

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.Group,
			Consumer: consumer,
			Streams:  []string{q.Stream, ">"},
			Count:    q.Batch,
			Block:    q.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("read from stream failed")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.process(ctx, log, msg, 1, handler)
			}
		}
	}
}

func (q *RedisQueue) reclaim(ctx context.Context, consumer string, handler Handler) {
	log := q.logger.With().Str("consumer", consumer).Logger()
	start := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.Stream,
			Group:    q.Group,
			Consumer: consumer,
			MinIdle:  q.RedeliveryDelay,
			Start:    start,
			Count:    q.Batch,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("claim pending entries failed")
			}
			return
		}

		for _, msg := range msgs {
			q.process(ctx, log, msg, q.deliveryCount(ctx, msg.ID), handler)
		}
		if len(msgs) == 0 || next == "0-0" {
			return
		}
		start = next
	}
}

func (q *RedisQueue) deliveryCount(ctx context.Context, id string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.Stream,
		Group:  q.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return int(pending[0].RetryCount)
}

func (q *RedisQueue) process(ctx context.Context, log zerolog.Logger, msg redis.XMessage, deliveries int, handler Handler) {
	raw, _ := msg.Values[jobField].(string)
	job, err := decodeJob(raw)
	if err != nil {
		q.deadLetter(ctx, log, msg.ID, raw, fmt.Sprintf("malformed job: %v", err))
		return
	}
	job.Attempt = deliveries

	if err := handler(ctx, job); err != nil {
		if IsPermanent(err) || deliveries >= q.MaxDeliveries {
			q.deadLetter(ctx, log, msg.ID, raw, err.Error())
			return
		}
		metrics.JobsProcessed.WithLabelValues("retry").Inc()
		log.Warn().Err(err).Str("entry_id", msg.ID).Str("job_id", job.ID).Int("attempt", deliveries).
			Msg("job failed, will be redelivered")
		return
	}

	if err := q.client.XAck(ctx, q.Stream, q.Group, msg.ID).Err(); err != nil {
		// the entry stays pending and is merged again later, which is harmless
		log.Error().Err(err).Str("entry_id", msg.ID).Msg("ack failed")
		return
	}
	metrics.JobsProcessed.WithLabelValues("ok").Inc()
}

func (q *RedisQueue) deadLetter(ctx context.Context, log zerolog.Logger, id, raw, reason string) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.DeadStream,
			Values: map[string]interface{}{
				jobField:    raw,
				"reason":    reason,
				"source_id": id,
				"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
		pipe.XAck(ctx, q.Stream, q.Group, id)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("entry_id", id).Msg("dead-letter failed")
		return
	}
	metrics.JobsProcessed.WithLabelValues("dead").Inc()
	log.Error().Str("entry_id", id).Str("reason", reason).Msg("job dead-lettered")
}

// DeadLetters lists the newest dead-lettered jobs.
func (q *RedisQueue) DeadLetters(ctx context.Context, n int) ([]DeadLetter, error) {
	msgs, err := q.client.XRevRangeN(ctx, q.DeadStream, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		dl := DeadLetter{ID: msg.ID}
		if raw, ok := msg.Values[jobField].(string); ok {
			dl.Job, _ = decodeJob(raw)
		}
		dl.Reason, _ = msg.Values["reason"].(string)
		if ts, ok := msg.Values["failed_at"].(string); ok {
			dl.FailedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		out = append(out, dl)
	}
	return out, nil
}

func decodeJob(raw string) (models.QueueJob, error) {
	var job models.QueueJob
	if raw == "" {
		return job, errors.New("empty payload")
	}
	err := json.Unmarshal([]byte(raw), &job)
	return job, err
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
