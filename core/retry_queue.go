package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RetryQueue owns every mutation of the durable queue. Store writes are
// serialized by mu; drains are serialized by drainMu so enqueues never wait
// on the forwarder during a drain.
type RetryQueue struct {
	store     QueueStore
	forwarder Forwarder

	mu      sync.Mutex
	drainMu sync.Mutex

	Now   func() time.Time
	NewID func() string
}

func NewRetryQueue(store QueueStore, forwarder Forwarder) *RetryQueue {
	return &RetryQueue{
		store:     store,
		forwarder: forwarder,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
	}
}

func (q *RetryQueue) Enqueue(ctx context.Context, lead CanonicalLead, fingerprint string) (QueuedLead, error) {
	if err := q.ready(); err != nil {
		return QueuedLead{}, err
	}
	if strings.TrimSpace(fingerprint) == "" {
		fingerprint = Fingerprint(lead)
	}
	item := QueuedLead{
		ID:          q.newID(),
		Fingerprint: fingerprint,
		Lead:        lead,
		EnqueuedAt:  q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Append(ctx, item); err != nil {
		return QueuedLead{}, NewPersistenceError("core: enqueue pending lead", err)
	}
	return item, nil
}

func (q *RetryQueue) List(ctx context.Context) ([]QueuedLead, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked(ctx)
}

// Drain forwards every queued lead once, in queue order. Delivered entries
// are removed and failed ones keep their position with updated attempt
// metadata. Entries appended while the drain runs are left alone.
func (q *RetryQueue) Drain(ctx context.Context) (DrainResult, error) {
	if err := q.ready(); err != nil {
		return DrainResult{}, err
	}
	if q.forwarder == nil {
		return DrainResult{}, NewConfigError("core: retry queue forwarder is not configured")
	}

	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	pending, err := q.List(ctx)
	if err != nil {
		return DrainResult{}, err
	}

	result := DrainResult{}
	settlement := QueueSettlement{}
	for _, item := range pending {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		attemptedAt := q.now()
		if _, err := q.forwarder.Forward(ctx, item.Lead); err != nil {
			result.Failed++
			item.Attempts++
			item.LastAttemptAt = &attemptedAt
			item.LastError = err.Error()
			settlement.Failed = append(settlement.Failed, item)
			continue
		}
		result.Succeeded++
		settlement.Delivered = append(settlement.Delivered, item.ID)
	}

	// progress made before a cancellation still has to be persisted
	persistCtx := context.WithoutCancel(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	if !settlement.Empty() {
		if err := q.store.Settle(persistCtx, settlement); err != nil {
			return result, NewPersistenceError("core: settle drained leads", err)
		}
	}
	remaining, err := q.listLocked(persistCtx)
	if err != nil {
		return result, err
	}
	result.Remaining = len(remaining)
	return result, nil
}

// Purge drops one entry by id, for leads an operator decided to give up on.
func (q *RetryQueue) Purge(ctx context.Context, id string) error {
	if err := q.ready(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return NewValidationError("id", "queue id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	removed, err := q.store.Delete(ctx, id)
	if err != nil {
		return NewPersistenceError("core: purge pending lead", err)
	}
	if !removed {
		return NewNotFoundError(fmt.Sprintf("core: pending lead %s not found", id), map[string]any{"queue_id": id})
	}
	return nil
}

func (q *RetryQueue) listLocked(ctx context.Context) ([]QueuedLead, error) {
	items, err := q.store.List(ctx)
	if err != nil {
		return nil, NewPersistenceError("core: list pending leads", err)
	}
	if items == nil {
		items = []QueuedLead{}
	}
	return items, nil
}

func (q *RetryQueue) ready() error {
	if q == nil || q.store == nil {
		return NewConfigError("core: retry queue store is not configured")
	}
	return nil
}

func (q *RetryQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func (q *RetryQueue) newID() string {
	if q != nil && q.NewID != nil {
		if id := strings.TrimSpace(q.NewID()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
