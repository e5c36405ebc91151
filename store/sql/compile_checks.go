package sqlstore

import "github.com/goliatone/go-leadrelay/core"

var _ core.QueueStore = (*PendingLeadStore)(nil)
