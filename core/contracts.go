package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// TokenSource hands out bearer tokens for an upstream, refreshing as needed.
type TokenSource interface {
	Token(ctx context.Context, upstream Upstream) (string, error)
}

type SignatureVerifier interface {
	Verify(ctx context.Context, req InboundRequest) error
}

type ListingEnricher interface {
	FetchListing(ctx context.Context, listingID string) (Enrichment, error)
}

type Forwarder interface {
	Forward(ctx context.Context, lead CanonicalLead) (DeliveryResult, error)
}

type DedupLedger interface {
	Seen(fingerprint string) bool
	Record(fingerprint string)
}

// QueueStore persists undelivered leads. Implementations must keep entries in
// enqueue order and must never leave a partially written list behind.
type QueueStore interface {
	Append(ctx context.Context, lead QueuedLead) error
	List(ctx context.Context) ([]QueuedLead, error)
	Settle(ctx context.Context, settlement QueueSettlement) error
	Delete(ctx context.Context, id string) (bool, error)
}
