package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
)

const attemptHeader = "x-attempt"

// AMQPBroker publishes jobs to durable RabbitMQ queues. Redis holds the
// job-id markers that make deterministic adds idempotent and the
// completed/failed counters.
type AMQPBroker struct {
	url      string
	timeout  time.Duration
	dedupTTL time.Duration
	policies Policies
	redis    redis.Cmdable
	logger   *logrus.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	pub      *amqp.Channel
	confirms chan amqp.Confirmation
	nextTag  uint64
	declared map[string]bool
}

type AMQPOptions struct {
	URL string
	// Timeout bounds dialing and waiting for a publisher confirm.
	Timeout time.Duration
	// DedupTTL is how long a job id keeps later adds with the same id out.
	DedupTTL time.Duration
	Policies Policies
}

func NewAMQPBroker(opts AMQPOptions, rdb redis.Cmdable, log *logrus.Logger) *AMQPBroker {
	return &AMQPBroker{
		url:      opts.URL,
		timeout:  opts.Timeout,
		dedupTTL: opts.DedupTTL,
		policies: opts.Policies,
		redis:    rdb,
		logger:   log,
		declared: map[string]bool{},
	}
}

// ====================== Connection ======================

// connection dials lazily; must be called with b.mu held.
func (b *AMQPBroker) connection() (*amqp.Connection, error) {
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := amqp.DialConfig(b.url, amqp.Config{
		Dial:      amqp.DefaultDial(b.timeout),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", appErrors.ErrQueueUnavailable, err)
	}
	b.conn = conn
	b.declared = map[string]bool{}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if cerr := <-closed; cerr != nil {
			b.logger.WithFields(logrus.Fields{"module": "queue"}).WithError(cerr).Warn("broker connection closed")
		}
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
			b.pub = nil
		}
		b.mu.Unlock()
	}()
	return conn, nil
}

// publishChannel returns the confirm-mode channel; must be called with b.mu held.
func (b *AMQPBroker) publishChannel() (*amqp.Channel, error) {
	if b.pub != nil {
		return b.pub, nil
	}
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: channel: %v", appErrors.ErrQueueUnavailable, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: confirm mode: %v", appErrors.ErrQueueUnavailable, err)
	}
	b.pub = ch
	b.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	b.nextTag = 0
	return ch, nil
}

func (b *AMQPBroker) dropPublishChannel() {
	if b.pub != nil {
		b.pub.Close()
		b.pub = nil
	}
}

func declare(ch *amqp.Channel, queueName string) error {
	_, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	return err
}

// publish sends one persistent message and waits for the broker to confirm
// it. A missing confirm within the timeout is a failure.
func (b *AMQPBroker) publish(ctx context.Context, queueName string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}
	if !b.declared[queueName] {
		if err := declare(ch, queueName); err != nil {
			b.dropPublishChannel()
			return fmt.Errorf("%w: declare %s: %v", appErrors.ErrQueueUnavailable, queueName, err)
		}
		b.declared[queueName] = true
	}

	msg.DeliveryMode = amqp.Persistent
	if err := ch.Publish("", queueName, false, false, msg); err != nil {
		b.dropPublishChannel()
		return fmt.Errorf("%w: publish: %v", appErrors.ErrQueueUnavailable, err)
	}
	b.nextTag++

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	for {
		select {
		case c, ok := <-b.confirms:
			if !ok {
				b.pub = nil
				return fmt.Errorf("%w: channel closed before confirm", appErrors.ErrQueueUnavailable)
			}
			if c.DeliveryTag != b.nextTag {
				continue
			}
			if !c.Ack {
				return fmt.Errorf("%w: broker nacked message", appErrors.ErrQueueUnavailable)
			}
			return nil
		case <-timer.C:
			// a late confirm must not be read by the next publish
			b.dropPublishChannel()
			return fmt.Errorf("%w: confirm timeout", appErrors.ErrQueueUnavailable)
		case <-ctx.Done():
			b.dropPublishChannel()
			return fmt.Errorf("%w: %v", appErrors.ErrQueueUnavailable, ctx.Err())
		}
	}
}

// ====================== Backend ======================

func dedupKey(queueName, jobID string) string {
	return "queue:job:" + queueName + ":" + jobID
}

func counterKey(queueName, state string) string {
	return "queue:stats:" + queueName + ":" + state
}

// Add publishes a job. With a JobID set, a job id seen within the dedup
// window is reported as a duplicate and not published again.
func (b *AMQPBroker) Add(ctx context.Context, queueName, jobName string, payload []byte, opts AddOptions) (JobHandle, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	handle := JobHandle{ID: id, Queue: queueName, Backend: BackendBroker}

	if opts.JobID != "" {
		fresh, err := b.redis.SetNX(ctx, dedupKey(queueName, id), time.Now().Unix(), b.dedupTTL).Result()
		if err != nil {
			return JobHandle{}, fmt.Errorf("%w: dedup marker: %v", appErrors.ErrQueueUnavailable, err)
		}
		if !fresh {
			handle.Duplicate = true
			return handle, nil
		}
	}

	err := b.publish(ctx, queueName, b.message(id, jobName, payload, 1, opts.Delay))
	if err != nil && opts.JobID != "" {
		// let the fallback, or a later add, take the id
		if derr := b.redis.Del(context.Background(), dedupKey(queueName, id)).Err(); derr != nil {
			logger.LogError(b.logger, "queue", "AMQPBroker.Add", "release dedup marker", map[string]any{"job_id": id}, derr)
		}
	}
	if err != nil {
		return JobHandle{}, err
	}
	return handle, nil
}

func (b *AMQPBroker) message(id, jobName string, payload []byte, attempt int, delay time.Duration) amqp.Publishing {
	headers := amqp.Table{attemptHeader: int32(attempt)}
	if delay > 0 {
		headers["x-not-before"] = time.Now().Add(delay).Unix()
	}
	return amqp.Publishing{
		Headers:     headers,
		ContentType: "application/json",
		MessageId:   id,
		Type:        jobName,
		Timestamp:   time.Now(),
		Body:        payload,
	}
}

// Stats reports ready message counts from the broker and the Redis
// counters for finished jobs.
func (b *AMQPBroker) Stats(ctx context.Context) (map[string]QueueStats, error) {
	stats := map[string]QueueStats{}
	for queueName := range b.policies {
		var s QueueStats
		for state, dst := range map[string]*int64{"completed": &s.Completed, "failed": &s.Failed} {
			n, err := b.redis.Get(ctx, counterKey(queueName, state)).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return nil, err
			}
			*dst = n
		}
		if waiting, err := b.inspect(queueName); err == nil {
			s.Waiting = int64(waiting)
		}
		stats[queueName] = s
	}
	return stats, nil
}

func (b *AMQPBroker) inspect(queueName string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()
	q, err := ch.QueueInspect(queueName)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Ping checks both RabbitMQ and Redis; either one down makes the broker
// unusable.
func (b *AMQPBroker) Ping(ctx context.Context) error {
	if err := b.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", appErrors.ErrQueueUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.publishChannel()
	return err
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropPublishChannel()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// ====================== Consumer ======================

// Process consumes queueName with manual acks and prefetch equal to the
// queue concurrency. It returns when ctx is done (nil) or the connection
// drops (error).
func (b *AMQPBroker) Process(ctx context.Context, queueName string, h Handler) error {
	policy := b.policies.For(queueName)

	b.mu.Lock()
	conn, err := b.connection()
	b.mu.Unlock()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: consumer channel: %v", appErrors.ErrQueueUnavailable, err)
	}
	defer ch.Close()

	if err := declare(ch, queueName); err != nil {
		return fmt.Errorf("%w: declare %s: %v", appErrors.ErrQueueUnavailable, queueName, err)
	}
	if err := ch.Qos(policy.Concurrency, 0, false); err != nil {
		return fmt.Errorf("%w: qos: %v", appErrors.ErrQueueUnavailable, err)
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: consume: %v", appErrors.ErrQueueUnavailable, err)
	}

	b.logger.WithFields(logrus.Fields{"module": "queue", "queue": queueName, "concurrency": policy.Concurrency}).Info("broker consumer started")

	var wg sync.WaitGroup
	for i := 0; i < policy.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					b.handle(ctx, queueName, policy, h, d)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		// unacked deliveries go back to the queue when the channel closes
		return nil
	}
	return fmt.Errorf("%w: delivery channel closed", appErrors.ErrQueueUnavailable)
}

func (b *AMQPBroker) handle(ctx context.Context, queueName string, policy Policy, h Handler, d amqp.Delivery) {
	job := &Job{
		ID:          d.MessageId,
		Queue:       queueName,
		Name:        d.Type,
		Payload:     d.Body,
		Attempt:     attemptOf(d.Headers),
		MaxAttempts: policy.Attempts,
	}
	if notBefore, ok := d.Headers["x-not-before"].(int64); ok {
		if wait := time.Until(time.Unix(notBefore, 0)); wait > 0 && sleepCtx(ctx, wait) != nil {
			d.Nack(false, true)
			return
		}
	}

	out, delay, jobErr := execute(ctx, b.logger, BackendBroker, policy, h, job)
	switch out {
	case outcomeCompleted:
		d.Ack(false)
		b.count(queueName, "completed")
	case outcomeFailed:
		d.Ack(false)
		b.count(queueName, "failed")
	case outcomeRetry:
		if err := sleepCtx(ctx, delay); err != nil {
			d.Nack(false, true)
			return
		}
		next := b.message(job.ID, job.Name, job.Payload, job.Attempt+1, 0)
		if err := b.publish(ctx, queueName, next); err != nil {
			// requeued as is; the attempt is counted again
			logger.LogError(b.logger, "queue", "AMQPBroker.handle", "republish retry", map[string]any{"job_id": job.ID, "cause": jobErr.Error()}, err)
			d.Nack(false, true)
			return
		}
		d.Ack(false)
	}
}

func (b *AMQPBroker) count(queueName, state string) {
	if err := b.redis.Incr(context.Background(), counterKey(queueName, state)).Err(); err != nil {
		logger.LogError(b.logger, "queue", "AMQPBroker.count", "increment "+state, nil, err)
	}
}

// attemptOf reads the attempt header; AMQP tables may decode integers at
// any width.
func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 1
}

var _ Broker = (*AMQPBroker)(nil)
