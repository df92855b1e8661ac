package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"momentum/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

const rabbitPrefix = "momentum."

// retryTiers are the delays of the per-kind retry queues. Every message in
// one retry queue shares the queue's TTL, so expiry order matches arrival
// order; a per-message TTL would let a long delay at the head hold back
// shorter ones behind it.
var retryTiers = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
}

// retryTier rounds delay up to the nearest tier so a job is never redelivered
// early. Delays past the last tier use the last tier.
func retryTier(delay time.Duration) time.Duration {
	for _, tier := range retryTiers {
		if delay <= tier {
			return tier
		}
	}
	return retryTiers[len(retryTiers)-1]
}

// RabbitQueue maps every kind onto a work queue, one retry queue per tier
// whose messages expire back into the work queue, and a dead queue.
// update-feed jobs are not coalesced on this driver; the handler is
// idempotent so duplicates only cost work.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu         sync.Mutex
	deliveries map[Kind]<-chan amqp.Delivery
	closed     bool
}

func workQueue(k Kind) string { return rabbitPrefix + string(k) }
func retryQueue(k Kind, tier time.Duration) string {
	return rabbitPrefix + string(k) + ".retry." + tier.String()
}
func deadQueue(k Kind) string { return rabbitPrefix + string(k) + ".dead" }

// NewRabbitQueue dials url and declares the topology for every kind.
// prefetch bounds the unacked deliveries held by this process.
func NewRabbitQueue(url string, prefetch int) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	q := &RabbitQueue{conn: conn, ch: ch, deliveries: make(map[Kind]<-chan amqp.Delivery)}
	if err := q.setupTopology(); err != nil {
		q.Close()
		return nil, fmt.Errorf("failed to setup topology: %w", err)
	}
	return q, nil
}

func (q *RabbitQueue) setupTopology() error {
	for _, k := range Kinds {
		if _, err := q.ch.QueueDeclare(workQueue(k), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", workQueue(k), err)
		}
		for _, tier := range retryTiers {
			name := retryQueue(k, tier)
			if _, err := q.ch.QueueDeclare(name, true, false, false, false, retryQueueArgs(k, tier)); err != nil {
				return fmt.Errorf("failed to declare %s: %w", name, err)
			}
		}
		if _, err := q.ch.QueueDeclare(deadQueue(k), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", deadQueue(k), err)
		}
	}
	return nil
}

// retryQueueArgs dead-letters expired retry messages back to the work queue.
func retryQueueArgs(k Kind, tier time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             tier.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": workQueue(k),
	}
}

func (q *RabbitQueue) publish(ctx context.Context, queue string, job *Job) error {
	body, err := job.marshal()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return q.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     job.ID,
		CorrelationId: job.CorrelationID,
		Type:          string(job.Kind),
		Timestamp:     time.Now(),
		Body:          body,
	})
}

func (q *RabbitQueue) Enqueue(ctx context.Context, job *Job) error {
	if !job.Kind.Valid() {
		return errUnknownKind(job.Kind)
	}
	if err := q.publish(ctx, workQueue(job.Kind), job); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", job.Kind, err)
	}
	return nil
}

func (q *RabbitQueue) consumer(kind Kind) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if d, ok := q.deliveries[kind]; ok {
		return d, nil
	}
	d, err := q.ch.Consume(workQueue(kind), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}
	q.deliveries[kind] = d
	return d, nil
}

func (q *RabbitQueue) Dequeue(ctx context.Context, kind Kind, wait time.Duration) (*Job, error) {
	if !kind.Valid() {
		return nil, errUnknownKind(kind)
	}
	msgs, err := q.consumer(kind)
	if err != nil {
		return nil, err
	}

	var d amqp.Delivery
	var ok bool
	if wait <= 0 {
		select {
		case d, ok = <-msgs:
		default:
			return nil, nil
		}
	} else {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case d, ok = <-msgs:
		}
	}
	if !ok {
		return nil, ErrClosed
	}

	job, err := unmarshalJob(d.Body)
	if err != nil {
		_ = d.Nack(false, false)
		return nil, err
	}
	job.receipt = d
	return job, nil
}

func delivery(job *Job) (amqp.Delivery, bool) {
	d, ok := job.receipt.(amqp.Delivery)
	return d, ok
}

func (q *RabbitQueue) Ack(_ context.Context, job *Job) error {
	d, ok := delivery(job)
	if !ok {
		return nil
	}
	return d.Ack(false)
}

func (q *RabbitQueue) Retry(ctx context.Context, job *Job, at time.Time) error {
	tier := retryTier(time.Until(at))
	if err := q.publish(ctx, retryQueue(job.Kind, tier), job); err != nil {
		return fmt.Errorf("queue: retry %s: %w", job.ID, err)
	}
	return q.Ack(ctx, job)
}

func (q *RabbitQueue) DeadLetter(ctx context.Context, job *Job) error {
	if err := q.publish(ctx, deadQueue(job.Kind), job); err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", job.ID, err)
	}
	return q.Ack(ctx, job)
}

// DeadLetters peeks at the dead queue on a short-lived channel; closing it
// returns every fetched message to the queue. Order is oldest first.
func (q *RabbitQueue) DeadLetters(_ context.Context, kind Kind, limit int) ([]*Job, error) {
	if !kind.Valid() {
		return nil, errUnknownKind(kind)
	}
	if limit <= 0 {
		limit = 100
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	out := make([]*Job, 0, limit)
	for len(out) < limit {
		d, ok, err := ch.Get(deadQueue(kind), false)
		if err != nil {
			return nil, fmt.Errorf("queue: list dead %s: %w", kind, err)
		}
		if !ok {
			break
		}
		job, err := unmarshalJob(d.Body)
		if err != nil {
			observability.LogAsyncOperationError(context.Background(), "dead_letter_peek", err, map[string]interface{}{"kind": kind})
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
