package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

var (
	ErrQueueFull   = errors.New("gojob: queue is full")
	ErrQueueClosed = errors.New("gojob: queue is closed")
)

// MemoryQueue is a single-process job queue. A message whose idempotency key
// is already queued or running is dropped and the receipt of the queued one
// is returned.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    chan *job.ExecutionMessage
	inflight map[string]queue.EnqueueReceipt
	dead     []*job.ExecutionMessage
	closed   bool
	now      func() time.Time
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemoryQueue{
		ready:    make(chan *job.ExecutionMessage, capacity),
		inflight: map[string]queue.EnqueueReceipt{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: execution message is required")
	}
	if err := ctx.Err(); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.EnqueueReceipt{}, ErrQueueClosed
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if receipt, exists := q.inflight[key]; exists {
			return receipt, nil
		}
	}
	receipt := queue.EnqueueReceipt{DispatchID: uuid.NewString(), EnqueuedAt: q.now()}
	select {
	case q.ready <- msg:
		if key != "" {
			q.inflight[key] = receipt
		}
		return receipt, nil
	default:
		return queue.EnqueueReceipt{}, ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-q.ready:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

// DeadLetters returns the messages nacked with the dead letter disposition.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

// Len reports how many messages are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) {
	push := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			delete(q.inflight, strings.TrimSpace(msg.IdempotencyKey))
			return
		}
		select {
		case q.ready <- msg:
		default:
			delete(q.inflight, strings.TrimSpace(msg.IdempotencyKey))
		}
	}
	if delay <= 0 {
		push()
		return
	}
	time.AfterFunc(delay, push)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return fmt.Errorf("gojob: %w", err)
	}
	d.once.Do(func() {
		key := strings.TrimSpace(d.msg.IdempotencyKey)
		switch opts.Disposition {
		case queue.NackDispositionRetry:
			d.queue.requeue(d.msg, opts.Delay)
		case queue.NackDispositionDeadLetter:
			d.queue.release(key)
			d.queue.mu.Lock()
			d.queue.dead = append(d.queue.dead, d.msg)
			d.queue.mu.Unlock()
		default:
			d.queue.release(key)
		}
	})
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
