package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type pendingLeadRecord struct {
	bun.BaseModel `bun:"table:pending_leads,alias:pl"`

	ID            string     `bun:"id,pk"`
	Position      int64      `bun:"position,notnull"`
	Fingerprint   string     `bun:"fingerprint,notnull"`
	Payload       string     `bun:"payload,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LastError     string     `bun:"last_error,notnull"`
	EnqueuedAt    time.Time  `bun:"enqueued_at,notnull"`
	LastAttemptAt *time.Time `bun:"last_attempt_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
