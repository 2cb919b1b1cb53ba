// Package queue routes jobs to the primary broker while it is healthy and to
// the persisted fallback table otherwise, and runs handlers over both.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Queue is the one entry point producers and workers use.
type Queue struct {
	broker   Broker
	fallback *Fallback
	health   *Health
	timeout  time.Duration
	logger   *logrus.Logger
}

// New wires a queue. broker may be nil, in which case every job goes to the
// fallback.
func New(broker Broker, fallback *Fallback, health *Health, brokerTimeout time.Duration, log *logrus.Logger) *Queue {
	return &Queue{
		broker:   broker,
		fallback: fallback,
		health:   health,
		timeout:  brokerTimeout,
		logger:   log,
	}
}

func (q *Queue) Health() *Health { return q.health }

func (q *Queue) Fallback() *Fallback { return q.fallback }

// Add enqueues payload (marshalled as JSON). A broker failure, including a
// timeout, flips the health flag and the job goes to the fallback instead;
// the caller only sees an error when the fallback fails too.
func (q *Queue) Add(ctx context.Context, queueName, jobName string, payload any, opts AddOptions) (JobHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return JobHandle{}, fmt.Errorf("encode %s payload: %w", jobName, err)
	}

	if q.broker != nil && q.health.Available() {
		bctx, cancel := context.WithTimeout(ctx, q.timeout)
		handle, err := q.broker.Add(bctx, queueName, jobName, body, opts)
		cancel()
		if err == nil {
			return handle, nil
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return JobHandle{}, ctx.Err()
		}
		q.health.MarkDown(err)
		q.logger.WithFields(logrus.Fields{
			"module": "queue",
			"queue":  queueName,
			"job_id": opts.JobID,
		}).WithError(err).Warn("broker add failed, routing to fallback")
	}

	return q.fallback.Add(ctx, queueName, jobName, body, opts)
}

// Stats groups per-queue counters by backend.
type Stats struct {
	BrokerAvailable bool                  `json:"broker_available"`
	Broker          map[string]QueueStats `json:"broker,omitempty"`
	Fallback        map[string]QueueStats `json:"fallback"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	fb, err := q.fallback.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{BrokerAvailable: q.health.Available(), Fallback: fb}
	if q.broker != nil && s.BrokerAvailable {
		bctx, cancel := context.WithTimeout(ctx, q.timeout)
		defer cancel()
		if bs, err := q.broker.Stats(bctx); err == nil {
			s.Broker = bs
		} else {
			q.logger.WithFields(logrus.Fields{"module": "queue"}).WithError(err).Warn("broker stats unavailable")
		}
	}
	return s, nil
}

// Process runs h over queueName on both backends until ctx is done. The
// fallback is always drained, so jobs routed there during an outage are
// still processed after the broker comes back.
func (q *Queue) Process(ctx context.Context, queueName string, h Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.fallback.Process(ctx, queueName, h)
	})
	if q.broker != nil {
		g.Go(func() error {
			q.consumeBroker(ctx, queueName, h)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) consumeBroker(ctx context.Context, queueName string, h Handler) {
	wait := q.health.interval
	if wait <= 0 {
		wait = 15 * time.Second
	}
	for {
		if q.health.Available() {
			err := q.broker.Process(ctx, queueName, h)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				q.health.MarkDown(err)
			}
		}
		if sleepCtx(ctx, wait) != nil {
			return
		}
	}
}

func (q *Queue) Close() error {
	if q.broker == nil {
		return nil
	}
	return q.broker.Close()
}
