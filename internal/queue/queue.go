package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momentum/internal/models"
)

// Enqueuer is the producer side used by the request path.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

// Queue is implemented by every driver.
type Queue interface {
	Enqueuer
	// Dequeue waits up to wait for a ready job of kind. It returns nil, nil
	// when none arrived. A wait of zero never blocks.
	Dequeue(ctx context.Context, kind Kind, wait time.Duration) (*Job, error)
	// Ack removes a finished job.
	Ack(ctx context.Context, job *Job) error
	// Retry hands the job back for redelivery no earlier than at.
	Retry(ctx context.Context, job *Job, at time.Time) error
	// DeadLetter sets the job aside for manual inspection.
	DeadLetter(ctx context.Context, job *Job) error
	// DeadLetters returns up to limit dead jobs of kind, newest first.
	DeadLetters(ctx context.Context, kind Kind, limit int) ([]*Job, error)
	Close() error
}

// ErrClosed is returned by drivers after Close.
var ErrClosed = errors.New("queue: closed")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should skip the remaining attempts.
// Validation and not-found errors are permanent as well.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	return models.HasCode(err, models.CodeNotFound) || models.HasCode(err, models.CodeValidation)
}

type deferredError struct {
	err   error
	after time.Duration
}

func (e *deferredError) Error() string { return e.err.Error() }
func (e *deferredError) Unwrap() error { return e.err }

// Defer asks the runner to hand the job back after the given delay without
// spending an attempt. Use it when the job is fine but cannot run yet.
func Defer(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &deferredError{err: err, after: after}
}

// Deferral reports whether err came from Defer, and its delay.
func Deferral(err error) (time.Duration, bool) {
	var d *deferredError
	if errors.As(err, &d) {
		return d.after, true
	}
	return 0, false
}

func errUnknownKind(kind Kind) error {
	return fmt.Errorf("queue: unknown job kind %q", kind)
}
