package query

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadrelay/core"
)

type PendingLeadsReader interface {
	PendingLeads(ctx context.Context) ([]core.QueuedLead, error)
}

type HealthReader interface {
	Health(ctx context.Context) core.HealthStatus
}

type ListPendingLeadsQuery struct {
	reader PendingLeadsReader
}

func NewListPendingLeadsQuery(reader PendingLeadsReader) *ListPendingLeadsQuery {
	return &ListPendingLeadsQuery{reader: reader}
}

func (q *ListPendingLeadsQuery) Query(ctx context.Context, msg ListPendingLeadsMessage) ([]core.QueuedLead, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: pending leads reader is required")
	}
	items, err := q.reader.PendingLeads(ctx)
	if err != nil {
		if collector := gocmd.ResultFromContext[[]core.QueuedLead](ctx); collector != nil {
			collector.StoreError(err)
		}
		return nil, err
	}
	if msg.Limit > 0 && len(items) > msg.Limit {
		items = items[:msg.Limit]
	}
	return items, nil
}

type HealthQuery struct {
	reader HealthReader
}

func NewHealthQuery(reader HealthReader) *HealthQuery {
	return &HealthQuery{reader: reader}
}

func (q *HealthQuery) Query(ctx context.Context, _ HealthMessage) (core.HealthStatus, error) {
	if q == nil || q.reader == nil {
		return core.HealthStatus{}, queryDependencyError("query: health reader is required")
	}
	return q.reader.Health(ctx), nil
}
