package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadrelay/core"
)

var (
	_ gocmd.Commander[ReceiveLeadMessage]      = (*ReceiveLeadCommand)(nil)
	_ gocmd.Commander[DrainRetryQueueMessage]  = (*DrainRetryQueueCommand)(nil)
	_ gocmd.Commander[PurgePendingLeadMessage] = (*PurgePendingLeadCommand)(nil)
	_ MutatingService                          = (*core.Service)(nil)
)
