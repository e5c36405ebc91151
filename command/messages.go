package command

import (
	"strings"

	"github.com/goliatone/go-leadrelay/core"
)

const (
	TypeReceiveLead      = "leadrelay.command.lead.receive"
	TypeDrainRetryQueue  = "leadrelay.command.queue.drain"
	TypePurgePendingLead = "leadrelay.command.queue.purge"
)

type ReceiveLeadMessage struct {
	Request core.InboundRequest
}

func (ReceiveLeadMessage) Type() string { return TypeReceiveLead }

// Validate accepts any request. Signature and payload checks run in the relay.
func (ReceiveLeadMessage) Validate() error { return nil }

type DrainRetryQueueMessage struct {
	// Trigger names what started the drain, for logs only.
	Trigger string
}

func (DrainRetryQueueMessage) Type() string { return TypeDrainRetryQueue }

func (DrainRetryQueueMessage) Validate() error { return nil }

type PurgePendingLeadMessage struct {
	ID string
}

func (PurgePendingLeadMessage) Type() string { return TypePurgePendingLead }

func (m PurgePendingLeadMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return commandValidationError("id", "queue id is required")
	}
	return nil
}
