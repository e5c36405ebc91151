package gocommand

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	goerrors "github.com/goliatone/go-errors"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	relaycommand "github.com/goliatone/go-leadrelay/command"
	"github.com/goliatone/go-leadrelay/core"
	relayquery "github.com/goliatone/go-leadrelay/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

// AddQueueResolver mirrors every registered command into a go-job queue
// registry once Initialize runs. Queries have no Execute method and are
// skipped.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	resolve := jobqueuecommand.QueueResolver(queueRegistry)
	return a.registry.AddResolver(strings.TrimSpace(key), func(cmd any, meta command.CommandMeta, registry *command.Registry) error {
		if !hasExecute(cmd) {
			return nil
		}
		return resolve(cmd, meta, registry)
	})
}

func hasExecute(cmd any) bool {
	if cmd == nil {
		return false
	}
	return reflect.ValueOf(cmd).MethodByName("Execute").IsValid()
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RelayService is everything the bus needs from the relay.
type RelayService interface {
	relaycommand.MutatingService
	relayquery.PendingLeadsReader
	relayquery.HealthReader
}

// Bus registers the relay commands and queries on the global dispatcher and
// exposes typed helpers that dispatch through it.
type Bus struct {
	adapter       *RegistryAdapter
	subscriptions []commanddispatcher.Subscription
}

type BusOption func(*busOptions)

type busOptions struct {
	registry      *command.Registry
	queueRegistry *jobqueuecommand.Registry
}

func WithRegistry(registry *command.Registry) BusOption {
	return func(o *busOptions) {
		o.registry = registry
	}
}

// WithQueueRegistry mirrors the relay commands into a go-job queue registry.
func WithQueueRegistry(registry *jobqueuecommand.Registry) BusOption {
	return func(o *busOptions) {
		o.queueRegistry = registry
	}
}

func NewBus(service RelayService, opts ...BusOption) (*Bus, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: relay service is required")
	}
	options := busOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	bus := &Bus{adapter: NewRegistryAdapter(options.registry)}
	if options.queueRegistry != nil {
		if err := bus.adapter.AddQueueResolver("queue", options.queueRegistry); err != nil {
			return nil, err
		}
	}

	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[relaycommand.ReceiveLeadMessage](bus.adapter, relaycommand.NewReceiveLeadCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[relaycommand.DrainRetryQueueMessage](bus.adapter, relaycommand.NewDrainRetryQueueCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[relaycommand.PurgePendingLeadMessage](bus.adapter, relaycommand.NewPurgePendingLeadCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[relayquery.ListPendingLeadsMessage, []core.QueuedLead](bus.adapter, relayquery.NewListPendingLeadsQuery(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[relayquery.HealthMessage, core.HealthStatus](bus.adapter, relayquery.NewHealthQuery(service))
		},
	}
	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			bus.Close()
			return nil, err
		}
		bus.subscriptions = append(bus.subscriptions, subscription)
	}
	if err := bus.adapter.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

// Close drops every dispatcher subscription owned by the bus.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.adapter.Registry()
}

func (b *Bus) ReceiveLead(ctx context.Context, req core.InboundRequest) (core.LeadResult, error) {
	return dispatchWithResult[relaycommand.ReceiveLeadMessage, core.LeadResult](ctx, relaycommand.ReceiveLeadMessage{Request: req})
}

func (b *Bus) DrainRetryQueue(ctx context.Context, trigger string) (core.DrainResult, error) {
	return dispatchWithResult[relaycommand.DrainRetryQueueMessage, core.DrainResult](ctx, relaycommand.DrainRetryQueueMessage{Trigger: trigger})
}

func (b *Bus) PurgePendingLead(ctx context.Context, id string) error {
	_, err := dispatchWithResult[relaycommand.PurgePendingLeadMessage, string](ctx, relaycommand.PurgePendingLeadMessage{ID: id})
	return err
}

func (b *Bus) ListPendingLeads(ctx context.Context, limit int) ([]core.QueuedLead, error) {
	return queryWithResult[relayquery.ListPendingLeadsMessage, []core.QueuedLead](ctx, relayquery.ListPendingLeadsMessage{Limit: limit})
}

func (b *Bus) Health(ctx context.Context) (core.HealthStatus, error) {
	return queryWithResult[relayquery.HealthMessage, core.HealthStatus](ctx, relayquery.HealthMessage{})
}

// dispatchWithResult returns the handler's own error when it stored one, so
// relay error codes survive the dispatcher's wrapping.
func dispatchWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		if cause := collector.Error(); cause != nil {
			return zero, cause
		}
		return zero, err
	}
	out, ok := collector.Load()
	if !ok {
		return zero, core.NewConfigError("gocommand: command completed without a result")
	}
	return out, nil
}

func queryWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	collector := command.NewResult[R]()
	out, err := commanddispatcher.Query[T, R](command.ContextWithResult(ctx, collector), msg)
	if err != nil {
		var zero R
		if cause := collector.Error(); cause != nil {
			return zero, cause
		}
		return zero, err
	}
	return out, nil
}

// ErrorMapper turns relay errors into response envelopes.
type ErrorMapper interface {
	MapError(err error) *goerrors.Error
}

// Relay serves the HTTP surface through the bus, so webhook intake, queue
// maintenance and health all run as dispatched commands and queries.
type Relay struct {
	bus    *Bus
	mapper ErrorMapper
	now    func() time.Time
}

func NewRelay(bus *Bus, mapper ErrorMapper) (*Relay, error) {
	if bus == nil {
		return nil, fmt.Errorf("gocommand: bus is required")
	}
	if mapper == nil {
		return nil, fmt.Errorf("gocommand: error mapper is required")
	}
	return &Relay{bus: bus, mapper: mapper, now: time.Now}, nil
}

func (r *Relay) ReceiveLead(ctx context.Context, req core.InboundRequest) (core.LeadResult, error) {
	return r.bus.ReceiveLead(ctx, req)
}

func (r *Relay) PendingLeads(ctx context.Context) ([]core.QueuedLead, error) {
	return r.bus.ListPendingLeads(ctx, 0)
}

func (r *Relay) RetryPending(ctx context.Context) (core.DrainResult, error) {
	return r.bus.DrainRetryQueue(ctx, "http")
}

func (r *Relay) PurgePending(ctx context.Context, id string) error {
	return r.bus.PurgePendingLead(ctx, id)
}

// Health reports unavailable when the health query itself cannot run.
func (r *Relay) Health(ctx context.Context) core.HealthStatus {
	status, err := r.bus.Health(ctx)
	if err != nil {
		return core.HealthStatus{Status: core.HealthStatusUnavailable, Timestamp: r.now().UTC()}
	}
	return status
}

func (r *Relay) MapError(err error) *goerrors.Error {
	return r.mapper.MapError(err)
}
