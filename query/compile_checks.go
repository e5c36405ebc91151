package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadrelay/core"
)

var (
	_ gocmd.Querier[ListPendingLeadsMessage, []core.QueuedLead] = (*ListPendingLeadsQuery)(nil)
	_ gocmd.Querier[HealthMessage, core.HealthStatus]          = (*HealthQuery)(nil)
	_ PendingLeadsReader                                        = (*core.Service)(nil)
	_ HealthReader                                              = (*core.Service)(nil)
)
