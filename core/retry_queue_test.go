package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestQueue(store QueueStore, forwarder Forwarder) *RetryQueue {
	queue := NewRetryQueue(store, forwarder)
	counter := 0
	queue.NewID = func() string {
		counter++
		return fmt.Sprintf("q_%d", counter)
	}
	queue.Now = func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	}
	return queue
}

func TestRetryQueue_EnqueuePreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := &memoryQueueStore{}
	queue := newTestQueue(store, &stubForwarder{})

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		if _, err := queue.Enqueue(ctx, CanonicalLead{SourceEventID: id, Email: id + "@example.com"}, ""); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	items, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 queued leads, got %d", len(items))
	}
	for i, want := range []string{"evt_1", "evt_2", "evt_3"} {
		if items[i].Lead.SourceEventID != want {
			t.Fatalf("expected position %d to be %s, got %s", i, want, items[i].Lead.SourceEventID)
		}
		if items[i].Fingerprint == "" {
			t.Fatalf("expected fingerprint to be derived on enqueue")
		}
	}
}

func TestRetryQueue_DrainRemovesDeliveredAndKeepsFailed(t *testing.T) {
	ctx := context.Background()
	store := &memoryQueueStore{}
	forwarder := &stubForwarder{failures: map[string]error{"evt_2": errCRMDown}}
	queue := newTestQueue(store, forwarder)

	for _, id := range []string{"evt_1", "evt_2", "evt_3", "evt_4"} {
		if _, err := queue.Enqueue(ctx, CanonicalLead{SourceEventID: id, Email: id + "@example.com"}, ""); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	forwarder.failures["evt_4"] = errCRMDown

	result, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Attempted != 4 || result.Succeeded != 2 || result.Failed != 2 || result.Remaining != 2 {
		t.Fatalf("unexpected drain result %#v", result)
	}

	items, _ := queue.List(ctx)
	if len(items) != 2 || items[0].Lead.SourceEventID != "evt_2" || items[1].Lead.SourceEventID != "evt_4" {
		t.Fatalf("expected failed entries to keep their order, got %#v", items)
	}
	if items[0].Attempts != 1 || items[0].LastAttemptAt == nil || items[0].LastError == "" {
		t.Fatalf("expected attempt metadata on failed entry, got %#v", items[0])
	}

	delete(forwarder.failures, "evt_2")
	delete(forwarder.failures, "evt_4")
	result, err = queue.Drain(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if result.Succeeded != 2 || result.Remaining != 0 {
		t.Fatalf("expected queue to be emptied, got %#v", result)
	}
}

func TestRetryQueue_DrainEmptyQueue(t *testing.T) {
	forwarder := &stubForwarder{}
	queue := newTestQueue(&memoryQueueStore{}, forwarder)
	result, err := queue.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result != (DrainResult{}) {
		t.Fatalf("expected zero result, got %#v", result)
	}
	if forwarder.callCount() != 0 {
		t.Fatalf("expected no forward calls")
	}
}

func TestRetryQueue_PersistenceFailures(t *testing.T) {
	ctx := context.Background()
	store := &memoryQueueStore{appendErr: errors.New("disk full")}
	queue := newTestQueue(store, &stubForwarder{})
	if _, err := queue.Enqueue(ctx, CanonicalLead{Email: "a@b.c"}, ""); !IsPersistenceError(err) {
		t.Fatalf("expected persistence error on append, got %v", err)
	}

	store.appendErr = nil
	if _, err := queue.Enqueue(ctx, CanonicalLead{Email: "a@b.c"}, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	store.settleErr = errors.New("rename failed")
	if _, err := queue.Drain(ctx); !IsPersistenceError(err) {
		t.Fatalf("expected persistence error on settle, got %v", err)
	}
	store.settleErr = nil
	items, _ := queue.List(ctx)
	if len(items) != 1 {
		t.Fatalf("expected entry to survive a failed settle, got %d", len(items))
	}
}

func TestRetryQueue_Purge(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(&memoryQueueStore{}, &stubForwarder{})
	queued, err := queue.Enqueue(ctx, CanonicalLead{Email: "a@b.c"}, "fp")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.Purge(ctx, queued.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if err := queue.Purge(ctx, queued.ID); !IsNotFoundError(err) {
		t.Fatalf("expected not found on second purge, got %v", err)
	}
	if err := queue.Purge(ctx, " "); !IsValidationError(err) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

// blockingForwarder parks every Forward call until release is closed.
type blockingForwarder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingForwarder) Forward(ctx context.Context, _ CanonicalLead) (DeliveryResult, error) {
	f.once.Do(func() { close(f.started) })
	<-f.release
	return DeliveryResult{CRMRecordID: "zoho_1"}, nil
}

func TestRetryQueue_EnqueueDuringDrainIsNotLost(t *testing.T) {
	ctx := context.Background()
	store := &memoryQueueStore{}
	forwarder := &blockingForwarder{started: make(chan struct{}), release: make(chan struct{})}
	queue := newTestQueue(store, forwarder)
	if _, err := queue.Enqueue(ctx, CanonicalLead{SourceEventID: "evt_1", Email: "a@b.c"}, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan DrainResult, 1)
	go func() {
		result, _ := queue.Drain(ctx)
		done <- result
	}()
	<-forwarder.started

	if _, err := queue.Enqueue(ctx, CanonicalLead{SourceEventID: "evt_2", Email: "b@b.c"}, ""); err != nil {
		t.Fatalf("enqueue during drain: %v", err)
	}
	close(forwarder.release)
	result := <-done

	if result.Attempted != 1 || result.Succeeded != 1 || result.Remaining != 1 {
		t.Fatalf("unexpected drain result %#v", result)
	}
	items, _ := queue.List(ctx)
	if len(items) != 1 || items[0].Lead.SourceEventID != "evt_2" {
		t.Fatalf("expected lead enqueued mid-drain to remain, got %#v", items)
	}
}

func TestRetryQueue_RequiresStore(t *testing.T) {
	var queue *RetryQueue
	if _, err := queue.List(context.Background()); !IsConfigError(err) {
		t.Fatalf("expected config error for nil queue, got %v", err)
	}
}
