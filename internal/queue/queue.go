// Package queue provides the at-least-once job transport between the
// realtime gateway and the persistence worker.
//
// A job handed to Enqueue is recorded before Enqueue returns. Consume calls
// the handler for each job and acknowledges it only when the handler
// succeeds; failed jobs are delivered again after a delay, so handlers must
// be idempotent. Jobs that fail with a permanent error, or that exhaust
// their delivery budget, are moved to a dead-letter list for operators.
// No ordering is guaranteed between jobs.
package queue

import (
	"context"
	"errors"
	"time"

	"gigchat/backend/internal/models"
)

// Handler processes one job. A nil return acknowledges the job.
type Handler func(ctx context.Context, job models.QueueJob) error

type Queue interface {
	// Enqueue records the job and returns its handle.
	Enqueue(ctx context.Context, job models.QueueJob) (string, error)
	// Consume feeds jobs to handler until ctx is cancelled.
	Consume(ctx context.Context, consumer string, handler Handler) error
	// DeadLetters returns up to n of the most recent dead-lettered jobs.
	DeadLetters(ctx context.Context, n int) ([]DeadLetter, error)
}

// DeadLetter is a job that will not be retried.
type DeadLetter struct {
	ID       string          `json:"id"`
	Job      models.QueueJob `json:"job"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
