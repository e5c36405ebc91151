package leadrelay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-leadrelay/command"
	relayquery "github.com/goliatone/go-leadrelay/query"
)

type CommandQueryService interface {
	relaycommand.MutatingService
	relayquery.PendingLeadsReader
	relayquery.HealthReader
}

type Commands struct {
	ReceiveLead      *relaycommand.ReceiveLeadCommand
	DrainRetryQueue  *relaycommand.DrainRetryQueueCommand
	PurgePendingLead *relaycommand.PurgePendingLeadCommand
}

type Queries struct {
	ListPendingLeads *relayquery.ListPendingLeadsQuery
	Health           *relayquery.HealthQuery
}

// Facade exposes the relay command and query handlers for hosts that wire
// their own dispatcher.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("leadrelay: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			ReceiveLead:      relaycommand.NewReceiveLeadCommand(service),
			DrainRetryQueue:  relaycommand.NewDrainRetryQueueCommand(service),
			PurgePendingLead: relaycommand.NewPurgePendingLeadCommand(service),
		},
		queries: Queries{
			ListPendingLeads: relayquery.NewListPendingLeadsQuery(service),
			Health:           relayquery.NewHealthQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
