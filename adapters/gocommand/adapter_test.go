package gocommand

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	relaycommand "github.com/goliatone/go-leadrelay/command"
	"github.com/goliatone/go-leadrelay/core"
	relayquery "github.com/goliatone/go-leadrelay/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "leadrelay.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "leadrelay.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestBus_DispatchesRelayOperations(t *testing.T) {
	svc := &fakeRelay{
		pending: []core.QueuedLead{{ID: "q-1"}, {ID: "q-2"}},
		drain:   core.DrainResult{Attempted: 2, Succeeded: 2},
	}
	queueRegistry := jobqueuecommand.NewRegistry()
	bus, err := NewBus(svc, WithRegistry(command.NewRegistry()), WithQueueRegistry(queueRegistry))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	received, err := bus.ReceiveLead(ctx, core.InboundRequest{Body: []byte(`{"id":"evt_1"}`)})
	if err != nil {
		t.Fatalf("receive lead: %v", err)
	}
	if received.Outcome != core.LeadOutcomeDelivered {
		t.Fatalf("unexpected lead result %#v", received)
	}

	drained, err := bus.DrainRetryQueue(ctx, "test")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained.Succeeded != 2 {
		t.Fatalf("unexpected drain result %#v", drained)
	}

	pending, err := bus.ListPendingLeads(ctx, 1)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "q-1" {
		t.Fatalf("unexpected pending list %#v", pending)
	}

	if err := bus.PurgePendingLead(ctx, "q-2"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	health, err := bus.Health(ctx)
	if err != nil || health.Status != core.HealthStatusHealthy {
		t.Fatalf("unexpected health %#v err=%v", health, err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.received != 1 || svc.drains != 1 || len(svc.purged) != 1 || svc.purged[0] != "q-2" {
		t.Fatalf("unexpected service calls %#v", svc)
	}
	if _, ok := queueRegistry.Get(relaycommand.TypeDrainRetryQueue); !ok {
		t.Fatalf("expected drain command to be mirrored into the queue registry")
	}
}

func TestBus_QueueRegistrySkipsQueries(t *testing.T) {
	queueRegistry := jobqueuecommand.NewRegistry()
	bus, err := NewBus(&fakeRelay{}, WithRegistry(command.NewRegistry()), WithQueueRegistry(queueRegistry))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	for _, name := range []string{relayquery.TypeListPendingLeads, relayquery.TypeHealth} {
		if _, ok := queueRegistry.Get(name); ok {
			t.Fatalf("expected query %s to stay off the queue registry", name)
		}
	}
}

func TestRelay_RoutesHTTPOperationsThroughBus(t *testing.T) {
	svc := &fakeRelay{
		pending: []core.QueuedLead{{ID: "q-1"}, {ID: "q-2"}, {ID: "q-3"}},
		drain:   core.DrainResult{Attempted: 3, Succeeded: 1},
	}
	bus, err := NewBus(svc, WithRegistry(command.NewRegistry()))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()
	mapper := &recordingMapper{}
	relay, err := NewRelay(bus, mapper)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	ctx := context.Background()
	if _, err := relay.ReceiveLead(ctx, core.InboundRequest{Body: []byte(`{}`)}); err != nil {
		t.Fatalf("receive lead: %v", err)
	}
	pending, err := relay.PendingLeads(ctx)
	if err != nil || len(pending) != 3 {
		t.Fatalf("expected the whole queue, got %d err=%v", len(pending), err)
	}
	drained, err := relay.RetryPending(ctx)
	if err != nil || drained.Succeeded != 1 {
		t.Fatalf("unexpected drain %#v err=%v", drained, err)
	}
	if err := relay.PurgePending(ctx, "q-3"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if health := relay.Health(ctx); health.Status != core.HealthStatusHealthy {
		t.Fatalf("unexpected health %#v", health)
	}

	svc.mu.Lock()
	calls := [3]int{svc.received, svc.drains, len(svc.purged)}
	svc.mu.Unlock()
	if calls != [3]int{1, 1, 1} {
		t.Fatalf("expected each operation to reach the service once, got %v", calls)
	}

	mapped := relay.MapError(errors.New("boom"))
	if mapper.calls != 1 || mapped.TextCode != core.ErrorInternal {
		t.Fatalf("expected mapper to be used, calls=%d mapped=%#v", mapper.calls, mapped)
	}
}

func TestRelay_PreservesServiceErrorCodes(t *testing.T) {
	svc := &fakeRelay{purgeErr: core.NewNotFoundError("pending lead q-9 not found", nil)}
	bus, err := NewBus(svc, WithRegistry(command.NewRegistry()))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()
	relay, err := NewRelay(bus, &recordingMapper{})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	err = relay.PurgePending(context.Background(), "q-9")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorNotFound {
		t.Fatalf("expected not found text code through the bus, got %v", err)
	}
}

func TestNewRelay_RequiresBusAndMapper(t *testing.T) {
	if _, err := NewRelay(nil, &recordingMapper{}); err == nil {
		t.Fatalf("expected error without bus")
	}
	bus, err := NewBus(&fakeRelay{}, WithRegistry(command.NewRegistry()))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()
	if _, err := NewRelay(bus, nil); err == nil {
		t.Fatalf("expected error without mapper")
	}
}

func TestBus_ReturnsServiceErrors(t *testing.T) {
	svc := &fakeRelay{purgeErr: core.NewNotFoundError("pending lead q-9 not found", nil)}
	bus, err := NewBus(svc, WithRegistry(command.NewRegistry()))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	if err := bus.PurgePendingLead(context.Background(), "q-9"); !core.IsNotFoundError(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := bus.PurgePendingLead(context.Background(), " "); err == nil {
		t.Fatalf("expected validation failure for blank id")
	}
}

func TestNewBus_RequiresService(t *testing.T) {
	if _, err := NewBus(nil); err == nil {
		t.Fatalf("expected error without service")
	}
}

type fakeRelay struct {
	mu       sync.Mutex
	pending  []core.QueuedLead
	drain    core.DrainResult
	purgeErr error
	received int
	drains   int
	purged   []string
}

func (f *fakeRelay) ReceiveLead(context.Context, core.InboundRequest) (core.LeadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	return core.LeadResult{Outcome: core.LeadOutcomeDelivered, CRMRecordID: "rec_1"}, nil
}

func (f *fakeRelay) RetryPending(context.Context) (core.DrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return f.drain, nil
}

func (f *fakeRelay) PurgePending(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purgeErr != nil {
		return f.purgeErr
	}
	f.purged = append(f.purged, id)
	return nil
}

func (f *fakeRelay) PendingLeads(context.Context) ([]core.QueuedLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.QueuedLead(nil), f.pending...), nil
}

func (f *fakeRelay) Health(context.Context) core.HealthStatus {
	return core.HealthStatus{Status: core.HealthStatusHealthy, Timestamp: time.Now().UTC()}
}

type recordingMapper struct {
	calls int
}

func (m *recordingMapper) MapError(err error) *goerrors.Error {
	m.calls++
	return goerrors.New(err.Error(), goerrors.CategoryInternal).WithTextCode(core.ErrorInternal)
}
