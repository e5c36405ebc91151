package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-leadrelay/core"
)

const (
	JobIDQueueDrain  = "leadrelay.queue.drain"
	ScriptQueueDrain = "leadrelay.queue.drain"
)

// NackOptions is the retry decision for a failed drain before it is mapped
// onto a go-job disposition.
type NackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

// RetryPolicy bounds how often a failed drain job is put back on the queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts NackOptions, attempt int) NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter && (p.MaxAttempts <= 0 || attempt < p.MaxAttempts) {
		out.Requeue = true
	}
	return out
}

// ToNackOptions maps a retry decision onto go-job nack options. A decision
// that neither requeues nor dead letters is a terminal failure.
func ToNackOptions(opts NackOptions) queue.NackOptions {
	out := queue.NackOptions{
		Disposition: queue.NackDispositionFailed,
		Reason:      opts.Reason,
	}
	switch {
	case opts.DeadLetter:
		out.Disposition = queue.NackDispositionDeadLetter
	case opts.Requeue:
		out.Disposition = queue.NackDispositionRetry
		out.Delay = opts.Delay
	}
	return out
}

// FromNackOptions maps go-job nack options back to a retry decision.
func FromNackOptions(opts queue.NackOptions) NackOptions {
	return NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Disposition == queue.NackDispositionRetry,
		DeadLetter: opts.Disposition == queue.NackDispositionDeadLetter,
		Reason:     opts.Reason,
	}
}

// DrainMessage builds the execution message for one drain pass. Messages for
// the same window share an idempotency key, so a queue that honors the drop
// policy runs at most one drain per window.
func DrainMessage(trigger string, at time.Time, window time.Duration) *job.ExecutionMessage {
	if window <= 0 {
		window = time.Minute
	}
	slot := at.UTC().Truncate(window)
	return &job.ExecutionMessage{
		JobID:          JobIDQueueDrain,
		ScriptPath:     ScriptQueueDrain,
		Parameters:     map[string]any{"trigger": strings.TrimSpace(trigger)},
		IdempotencyKey: fmt.Sprintf("%s:%d", JobIDQueueDrain, slot.Unix()),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// Drainer runs one pass over the retry queue.
type Drainer interface {
	RetryPending(ctx context.Context) (core.DrainResult, error)
}

type DrainerFunc func(ctx context.Context) (core.DrainResult, error)

func (f DrainerFunc) RetryPending(ctx context.Context) (core.DrainResult, error) {
	return f(ctx)
}

// DrainWorker consumes drain jobs and runs them against a Drainer. Messages
// for other jobs are acked and ignored.
type DrainWorker struct {
	dequeuer queue.Dequeuer
	drainer  Drainer
	policy   RetryPolicy
	hooks    []worker.Hook
	backoff  time.Duration
	now      func() time.Time
	attempts map[string]int
}

type WorkerOption func(*DrainWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *DrainWorker) {
		w.policy = policy
	}
}

func WithHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *DrainWorker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

// WithRetryBackoff sets the delay requested when a failed drain is requeued.
func WithRetryBackoff(delay time.Duration) WorkerOption {
	return func(w *DrainWorker) {
		w.backoff = delay
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *DrainWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewDrainWorker(dequeuer queue.Dequeuer, drainer Drainer, opts ...WorkerOption) (*DrainWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if drainer == nil {
		return nil, fmt.Errorf("gojob: drainer is required")
	}
	w := &DrainWorker{
		dequeuer: dequeuer,
		drainer:  drainer,
		policy:   RetryPolicy{MaxAttempts: 3, MaxDelay: time.Minute},
		backoff:  10 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run processes deliveries until ctx is done or the dequeuer fails.
func (w *DrainWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		if err := w.Process(ctx, delivery); err != nil && ctx.Err() == nil {
			return err
		}
	}
}

// Process handles a single delivery. The returned error reports a failed
// ack or nack, not a failed drain.
func (w *DrainWorker) Process(ctx context.Context, delivery queue.Delivery) error {
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDQueueDrain {
		return delivery.Ack(ctx)
	}

	key := attemptKey(msg)
	w.attempts[key]++
	attempt := w.attempts[key]
	startedAt := w.now()
	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: startedAt,
	}
	w.emit(func(hook worker.Hook) { hook.OnStart(ctx, event) })

	_, err := w.drainer.RetryPending(ctx)
	event.Duration = w.now().Sub(startedAt)
	if err == nil {
		delete(w.attempts, key)
		w.emit(func(hook worker.Hook) { hook.OnSuccess(ctx, event) })
		return delivery.Ack(ctx)
	}

	event.Err = err
	nack := w.policy.NormalizeAttempt(NackOptions{
		Delay:   w.backoff,
		Requeue: true,
		Reason:  err.Error(),
	}, attempt)
	if nack.Requeue {
		event.Delay = nack.Delay
		w.emit(func(hook worker.Hook) { hook.OnRetry(ctx, event) })
	} else {
		delete(w.attempts, key)
		w.emit(func(hook worker.Hook) { hook.OnFailure(ctx, event) })
	}
	return delivery.Nack(ctx, ToNackOptions(nack))
}

func (w *DrainWorker) emit(fn func(worker.Hook)) {
	for _, hook := range w.hooks {
		fn(hook)
	}
}

func attemptKey(msg *job.ExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

// Scheduler enqueues a drain message on a fixed interval. A tick whose
// enqueue fails is logged and skipped; the next tick tries again.
type Scheduler struct {
	enqueuer queue.Enqueuer
	interval time.Duration
	logger   job.Logger
	now      func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger job.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(enqueuer queue.Enqueuer, interval time.Duration, opts ...SchedulerOption) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("gojob: drain interval must be positive")
	}
	s := &Scheduler{
		enqueuer: enqueuer,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Trigger enqueues one drain for the current window.
func (s *Scheduler) Trigger(ctx context.Context, trigger string) error {
	_, err := s.enqueuer.Enqueue(ctx, DrainMessage(trigger, s.now(), s.interval))
	return err
}

// Run ticks until ctx is done. It only returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	err := s.Trigger(ctx, "schedule")
	if err == nil || ctx.Err() != nil || s.logger == nil {
		return
	}
	s.logger.Warn("drain tick skipped", "job_id", JobIDQueueDrain, "error", err.Error())
}
