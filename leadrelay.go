package leadrelay

import "github.com/goliatone/go-leadrelay/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type InboundRequest = core.InboundRequest
type CanonicalLead = core.CanonicalLead
type QueuedLead = core.QueuedLead
type LeadResult = core.LeadResult
type DrainResult = core.DrainResult
type HealthStatus = core.HealthStatus

type Forwarder = core.Forwarder
type ListingEnricher = core.ListingEnricher
type SignatureVerifier = core.SignatureVerifier
type QueueStore = core.QueueStore
type DedupLedger = core.DedupLedger
type MetricsRecorder = core.MetricsRecorder

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithSignatureVerifier = core.WithSignatureVerifier
	WithListingEnricher   = core.WithListingEnricher
	WithForwarder         = core.WithForwarder
	WithDedupLedger       = core.WithDedupLedger
	WithQueueStore        = core.WithQueueStore
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
