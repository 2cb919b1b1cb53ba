package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// Fallback keeps jobs in the queue_jobs table. It is always reachable when
// storage is, so it takes over whenever the broker cannot.
type Fallback struct {
	Repo         repository.QueueJobRepositoryInterface
	Policies     Policies
	PollInterval time.Duration
	// StaleAfter is how long an active row may go untouched before it is
	// handed back to waiting. Running jobs renew their lease every third of
	// it, so only rows of dead workers go stale.
	StaleAfter time.Duration
	Logger     *logrus.Logger

	now func() time.Time
}

func NewFallback(repo repository.QueueJobRepositoryInterface, policies Policies, poll, staleAfter time.Duration, log *logrus.Logger) *Fallback {
	return &Fallback{
		Repo:         repo,
		Policies:     policies,
		PollInterval: poll,
		StaleAfter:   staleAfter,
		Logger:       log,
		now:          time.Now,
	}
}

func (f *Fallback) clock() time.Time {
	if f.now == nil {
		return time.Now()
	}
	return f.now()
}

func (f *Fallback) Add(ctx context.Context, queueName, jobName string, payload []byte, opts AddOptions) (JobHandle, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	row := &model.QueueJob{
		QueueName:    queueName,
		JobID:        id,
		JobName:      jobName,
		Payload:      payload,
		State:        model.JobWaiting,
		MaxAttempts:  f.Policies.For(queueName).Attempts,
		ScheduledFor: f.clock().Add(opts.Delay),
	}
	inserted, err := f.Repo.Insert(ctx, row)
	if err != nil {
		return JobHandle{}, fmt.Errorf("fallback add %s/%s: %w", queueName, id, err)
	}
	return JobHandle{ID: id, Queue: queueName, Backend: BackendFallback, Duplicate: !inserted}, nil
}

func (f *Fallback) Stats(ctx context.Context) (map[string]QueueStats, error) {
	counts, err := f.Repo.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]QueueStats, len(counts))
	for queueName, byState := range counts {
		stats[queueName] = QueueStats{
			Waiting:   int64(byState[model.JobWaiting]),
			Active:    int64(byState[model.JobActive]),
			Completed: int64(byState[model.JobCompleted]),
			Failed:    int64(byState[model.JobFailed]),
		}
	}
	return stats, nil
}

func (f *Fallback) Close() error { return nil }

// Process polls the table until ctx is done. Storage errors are logged and
// the next poll tries again.
func (f *Fallback) Process(ctx context.Context, queueName string, h Handler) error {
	interval := f.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := f.PollOnce(ctx, queueName, h); err != nil && ctx.Err() == nil {
			logger.LogError(f.Logger, "queue", "Fallback.Process", "poll "+queueName, nil, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce claims up to the queue's concurrency in due jobs, runs them in
// parallel and waits for all of them. It returns how many were claimed.
func (f *Fallback) PollOnce(ctx context.Context, queueName string, h Handler) (int, error) {
	policy := f.Policies.For(queueName)
	rows, err := f.Repo.ListClaimable(ctx, queueName, f.clock(), policy.Concurrency)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	claimed := 0
	for _, row := range rows {
		ok, err := f.Repo.Claim(ctx, row.ID)
		if err != nil {
			return claimed, err
		}
		if !ok {
			// another worker got it first
			continue
		}
		claimed++
		wg.Add(1)
		go func(row *model.QueueJob) {
			defer wg.Done()
			f.run(ctx, policy, h, row)
		}(row)
	}
	wg.Wait()
	return claimed, nil
}

func (f *Fallback) run(ctx context.Context, policy Policy, h Handler, row *model.QueueJob) {
	maxAttempts := row.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.Attempts
	}
	job := &Job{
		ID:          row.JobID,
		Queue:       row.QueueName,
		Name:        row.JobName,
		Payload:     row.Payload,
		Attempt:     row.Attempts + 1,
		MaxAttempts: maxAttempts,
	}

	stop := f.keepLease(ctx, row)
	out, delay, jobErr := execute(ctx, f.Logger, BackendFallback, policy, h, job)
	stop()

	var err error
	switch out {
	case outcomeCompleted:
		err = f.Repo.Complete(ctx, row.ID)
	case outcomeRetry:
		err = f.Repo.Retry(ctx, row.ID, jobErr.Error(), f.clock().Add(delay))
	case outcomeFailed:
		err = f.Repo.Fail(ctx, row.ID, jobErr.Error())
	}
	if err != nil {
		// the row stays active and is reclaimed once stale
		logger.LogError(f.Logger, "queue", "Fallback.run", "record outcome", map[string]any{"job_id": row.JobID}, err)
	}
}

// keepLease renews the row's lease until the returned stop is called.
func (f *Fallback) keepLease(ctx context.Context, row *model.QueueJob) (stop func()) {
	if f.StaleAfter <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(f.StaleAfter / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := f.Repo.Touch(ctx, row.ID)
			if err != nil && ctx.Err() == nil {
				logger.LogError(f.Logger, "queue", "Fallback.keepLease", "renew lease", map[string]any{"job_id": row.JobID}, err)
				continue
			}
			if err == nil && !ok {
				f.Logger.WithFields(logrus.Fields{"module": "queue", "queue": row.QueueName, "job_id": row.JobID}).Warn("fallback job lease lost")
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Maintain hands stale active rows back and trims finished rows to the
// per-queue retention.
func (f *Fallback) Maintain(ctx context.Context) error {
	if f.StaleAfter > 0 {
		n, err := f.Repo.ReclaimStale(ctx, f.clock().Add(-f.StaleAfter))
		if err != nil {
			return fmt.Errorf("reclaim stale jobs: %w", err)
		}
		if n > 0 {
			f.Logger.WithFields(logrus.Fields{"module": "queue", "reclaimed": n}).Warn("stale fallback jobs returned to waiting")
		}
	}
	for queueName, policy := range f.Policies {
		for state, keep := range map[string]int{model.JobCompleted: policy.KeepCompleted, model.JobFailed: policy.KeepFailed} {
			n, err := f.Repo.Prune(ctx, queueName, state, keep)
			if err != nil {
				return fmt.Errorf("prune %s/%s: %w", queueName, state, err)
			}
			if n > 0 {
				f.Logger.WithFields(logrus.Fields{"module": "queue", "queue": queueName, "state": state, "pruned": n}).Info("fallback jobs pruned")
			}
		}
	}
	return nil
}

var _ Backend = (*Fallback)(nil)
var _ Consumer = (*Fallback)(nil)
