package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetry
	outcomeFailed
)

// execute runs h once and decides what happens to the job next. The same
// rules apply on both backends.
func execute(ctx context.Context, log *logrus.Logger, backend string, p Policy, h Handler, job *Job) (outcome, time.Duration, error) {
	err := call(ctx, h, job)
	entry := log.WithFields(logrus.Fields{
		"module":  "queue",
		"backend": backend,
		"queue":   job.Queue,
		"job_id":  job.ID,
		"job":     job.Name,
		"attempt": job.Attempt,
	})
	if err == nil {
		entry.Debug("job completed")
		return outcomeCompleted, 0, nil
	}
	if appErrors.IsPermanent(err) || job.LastAttempt() {
		entry.WithError(err).Error("job failed")
		return outcomeFailed, 0, err
	}
	delay := p.Backoff.For(job.Attempt)
	entry.WithError(err).WithField("retry_in", delay.String()).Warn("job attempt failed, will retry")
	return outcomeRetry, delay, err
}

func call(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
