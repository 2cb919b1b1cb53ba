// Package runner drives the periodic passes of the pipeline.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/smsleopard-delivery/internal/logger"
)

// Task is one periodic pass. Every is rounded down to whole seconds and
// must be at least one second.
type Task struct {
	Name  string
	Every time.Duration
	// Delay postpones the first run after Run starts. Zero waits a full
	// Every before the first run.
	Delay time.Duration
	Run   func(ctx context.Context) error
}

type Runner struct {
	cron    *cron.Cron
	logger  *logrus.Logger
	tasks   []Task
	entries []cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(log *logrus.Logger) *Runner {
	clog := cron.PrintfLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:   cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog))),
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a task. Tasks must be added before Run.
func (r *Runner) Add(t Task) error {
	if t.Every < time.Second {
		return fmt.Errorf("task %s: interval %s below one second", t.Name, t.Every)
	}
	id, err := r.cron.AddFunc(fmt.Sprintf("@every %s", t.Every.Truncate(time.Second)), r.wrap(t))
	if err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	r.tasks = append(r.tasks, t)
	r.entries = append(r.entries, id)
	return nil
}

func (r *Runner) wrap(t Task) func() {
	return func() {
		start := time.Now()
		if err := t.Run(r.ctx); err != nil {
			logger.LogError(r.logger, "runner", t.Name, "periodic task failed", nil, err)
			return
		}
		r.logger.WithFields(logrus.Fields{
			"module":   "runner",
			"task":     t.Name,
			"duration": time.Since(start).String(),
		}).Debug("periodic task finished")
	}
}

// Run starts the schedule and blocks until ctx is cancelled, then waits
// for running tasks to return.
func (r *Runner) Run(ctx context.Context) {
	r.cron.Start()
	for i, t := range r.tasks {
		if t.Delay <= 0 {
			continue
		}
		job := r.cron.Entry(r.entries[i]).WrappedJob
		go func(delay time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
				job.Run()
			}
		}(t.Delay)
	}
	r.logger.WithFields(logrus.Fields{"module": "runner", "tasks": len(r.tasks)}).Info("periodic runner started")

	<-ctx.Done()
	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.WithField("module", "runner").Info("periodic runner stopped")
}
