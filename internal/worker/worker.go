// Package worker drains the job queue into room transcripts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigchat/backend/internal/config"
	"gigchat/backend/internal/metrics"
	"gigchat/backend/internal/models"
	"gigchat/backend/internal/queue"
	"gigchat/backend/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrMalformedJob is returned for jobs that can never be merged.
var ErrMalformedJob = errors.New("malformed job")

// TranscriptStore is the part of storage.Storage the worker needs.
type TranscriptStore interface {
	MergeTranscript(ctx context.Context, roomID string, pair models.Pair, entries models.Transcript, createdAt time.Time) (bool, error)
}

// Notifier receives a receipt for every entry that reached a transcript.
type Notifier interface {
	PublishDelivery(ctx context.Context, receipt models.DeliveryReceipt) error
}

// Worker runs Concurrency consumers against the queue. Several workers, in
// one process or many, may merge into the same room at once; the store's
// merge is atomic, so no locking happens here.
type Worker struct {
	Store       TranscriptStore
	Queue       queue.Queue
	Notifier    Notifier
	Concurrency int
	Name        string
	NewBackOff  func() backoff.BackOff
	logger      zerolog.Logger
}

func New(store TranscriptStore, q queue.Queue, notifier Notifier, concurrency int, logger zerolog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		Store:       store,
		Queue:       q,
		Notifier:    notifier,
		Concurrency: concurrency,
		Name:        "worker",
		NewBackOff:  defaultBackOff,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.RetryInitialInterval
	b.MaxElapsedTime = config.StoreRetryMaxElapsed
	return b
}

// Run blocks until ctx is cancelled or a consumer fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.Concurrency).Msg("persistence worker started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Concurrency; i++ {
		name := fmt.Sprintf("%s-%d", w.Name, i)
		g.Go(func() error {
			return w.Queue.Consume(ctx, name, w.Handle)
		})
	}
	return g.Wait()
}

// Handle merges one job. A returned error leaves the job unacknowledged;
// errors wrapped with queue.Permanent send it straight to the dead letters.
func (w *Worker) Handle(ctx context.Context, job models.QueueJob) error {
	log := w.logger.With().Str("job_id", job.ID).Str("room_id", job.RoomID).Int("attempt", job.Attempt).Logger()

	if err := validate(job); err != nil {
		return queue.Permanent(err)
	}

	pair := job.Pair()
	var created bool
	merge := func() error {
		c, err := w.Store.MergeTranscript(ctx, job.RoomID, pair, job.Entries, job.CreatedAt)
		if errors.Is(err, storage.ErrPairMismatch) || errors.Is(err, storage.ErrPairConflict) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().Err(err).Msg("merge failed, retrying")
			return err
		}
		created = c
		return nil
	}

	start := time.Now()
	err := backoff.Retry(merge, backoff.WithContext(w.NewBackOff(), ctx))
	metrics.MergeLatency.Observe(time.Since(start).Seconds())
	if errors.Is(err, storage.ErrPairMismatch) || errors.Is(err, storage.ErrPairConflict) {
		return queue.Permanent(fmt.Errorf("merge into room %s: %w", job.RoomID, err))
	}
	if err != nil {
		return fmt.Errorf("merge into room %s: %w", job.RoomID, err)
	}

	if created {
		metrics.RoomsCreated.Inc()
		log.Info().Str("user_a", pair.A).Str("user_b", pair.B).Msg("room created from first message")
	}
	log.Debug().Int("entries", len(job.Entries)).Msg("transcript merged")

	w.notify(ctx, log, job)
	return nil
}

// notify is best effort: the entries are already durable, and a redelivered
// job would only repeat the receipts.
func (w *Worker) notify(ctx context.Context, log zerolog.Logger, job models.QueueJob) {
	if w.Notifier == nil {
		return
	}
	for _, e := range job.Entries.Sorted() {
		receipt := models.DeliveryReceipt{
			RoomID:     job.RoomID,
			SenderID:   job.SenderID,
			ReceiverID: job.ReceiverID,
			Timestamp:  e.Timestamp,
			Entry:      models.Entry{SenderID: e.SenderID, Text: e.Text},
		}
		if err := w.Notifier.PublishDelivery(ctx, receipt); err != nil {
			log.Warn().Err(err).Str("timestamp", e.Timestamp).Msg("delivery receipt not published")
		}
	}
}

func validate(job models.QueueJob) error {
	switch {
	case job.RoomID == "":
		return fmt.Errorf("%w: missing room_id", ErrMalformedJob)
	case job.SenderID == "" || job.ReceiverID == "":
		return fmt.Errorf("%w: missing sender or receiver", ErrMalformedJob)
	case job.SenderID == job.ReceiverID:
		return fmt.Errorf("%w: sender and receiver are the same user", ErrMalformedJob)
	case len(job.Entries) == 0:
		return fmt.Errorf("%w: no entries", ErrMalformedJob)
	}
	for ts := range job.Entries {
		if ts == "" {
			return fmt.Errorf("%w: empty timestamp key", ErrMalformedJob)
		}
	}
	return nil
}
