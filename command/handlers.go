package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadrelay/core"
)

type MutatingService interface {
	ReceiveLead(ctx context.Context, req core.InboundRequest) (core.LeadResult, error)
	RetryPending(ctx context.Context) (core.DrainResult, error)
	PurgePending(ctx context.Context, id string) error
}

type ReceiveLeadCommand struct {
	service MutatingService
}

func NewReceiveLeadCommand(service MutatingService) *ReceiveLeadCommand {
	return &ReceiveLeadCommand{service: service}
}

func (c *ReceiveLeadCommand) Execute(ctx context.Context, msg ReceiveLeadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: relay service is required")
	}
	out, err := c.service.ReceiveLead(ctx, msg.Request)
	if err != nil {
		storeError[core.LeadResult](ctx, err)
		return err
	}
	storeResult(ctx, out)
	return nil
}

// DrainRetryQueueCommand runs one drain pass. The HTTP retry endpoint and the
// scheduled job both dispatch it.
type DrainRetryQueueCommand struct {
	service MutatingService
}

func NewDrainRetryQueueCommand(service MutatingService) *DrainRetryQueueCommand {
	return &DrainRetryQueueCommand{service: service}
}

func (c *DrainRetryQueueCommand) Execute(ctx context.Context, _ DrainRetryQueueMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: relay service is required")
	}
	out, err := c.service.RetryPending(ctx)
	if err != nil {
		storeError[core.DrainResult](ctx, err)
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgePendingLeadCommand struct {
	service MutatingService
}

func NewPurgePendingLeadCommand(service MutatingService) *PurgePendingLeadCommand {
	return &PurgePendingLeadCommand{service: service}
}

func (c *PurgePendingLeadCommand) Execute(ctx context.Context, msg PurgePendingLeadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: relay service is required")
	}
	if err := c.service.PurgePending(ctx, msg.ID); err != nil {
		storeError[string](ctx, err)
		return err
	}
	storeResult(ctx, msg.ID)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

// storeError keeps the service error intact for callers that read the
// collector; the dispatcher rewraps the returned error with its own codes.
func storeError[T any](ctx context.Context, err error) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.StoreError(err)
}
