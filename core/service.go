package core

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	HealthStatusHealthy     = "healthy"
	HealthStatusUnavailable = "unavailable"

	messageDelivered = "Lead forwarded to CRM"
	messageDuplicate = "Duplicate lead, skipped"
	messageQueued    = "CRM delivery failed, lead queued for retry"
)

// Service runs the relay pipeline: verify, parse, dedup, enrich, forward,
// and queue on failure.
type Service struct {
	config         Config
	telemetry      telemetry
	loggerProvider LoggerProvider
	errorMapper    ErrorMapper
	verifier       SignatureVerifier
	normalizer     *Normalizer
	ledger         DedupLedger
	forwarder      Forwarder
	queue          *RetryQueue
	now            func() time.Time
	startedAt      time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("leadrelay", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("leadrelay"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.verifier == nil {
		return nil, NewConfigError("core: signature verifier is required")
	}
	if builder.forwarder == nil {
		return nil, NewConfigError("core: forwarder is required")
	}
	if builder.queueStore == nil {
		return nil, NewConfigError("core: queue store is required")
	}
	if builder.ledger == nil {
		builder.ledger = NewMemoryDedupLedger(finalConfig.Dedup.Capacity)
	}

	queue := NewRetryQueue(builder.queueStore, builder.forwarder)
	queue.Now = builder.now
	if builder.newID != nil {
		queue.NewID = builder.newID
	}

	return &Service{
		config: finalConfig,
		telemetry: telemetry{
			logger:  logger,
			metrics: builder.metricsRecorder,
			prefix:  "leadrelay",
		},
		loggerProvider: provider,
		errorMapper:    builder.errorMapper,
		verifier:       builder.verifier,
		normalizer:     NewNormalizer(builder.enricher),
		ledger:         builder.ledger,
		forwarder:      builder.forwarder,
		queue:          queue,
		now:            builder.now,
		startedAt:      builder.now(),
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil || s.telemetry.logger == nil {
		return glog.Nop()
	}
	return s.telemetry.logger
}

func (s *Service) LoggerProvider() LoggerProvider {
	if s == nil {
		return nil
	}
	return s.loggerProvider
}

// MapError converts any error into the rich envelope used by transports.
func (s *Service) MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return defaultErrorMapper(err)
	}
	return s.errorMapper(err)
}

// ReceiveLead handles one webhook call. Delivered, duplicate, and queued
// leads all succeed; queued leads carry the forwarder failure only in logs.
// A lead that can be neither delivered nor persisted returns a persistence
// error and is not recorded, so the sender's own retry gets another chance.
func (s *Service) ReceiveLead(ctx context.Context, req InboundRequest) (result LeadResult, err error) {
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "receive_lead", err, fields)
	}()

	if err = s.verifier.Verify(ctx, req); err != nil {
		if !IsSignatureError(err) {
			err = NewSignatureError("core: webhook signature rejected", err)
		}
		return LeadResult{}, err
	}

	lead, err := s.normalizer.Parse(req.Body)
	if err != nil {
		return LeadResult{}, err
	}
	fingerprint := Fingerprint(lead)
	fields["fingerprint"] = fingerprint
	fields["source_event_id"] = lead.SourceEventID
	fields["shape"] = lead.Shape
	fields["listing_id"] = lead.ListingID

	if s.ledger.Seen(fingerprint) {
		fields["outcome"] = string(LeadOutcomeDuplicate)
		return LeadResult{
			Outcome:     LeadOutcomeDuplicate,
			Fingerprint: fingerprint,
			Message:     messageDuplicate,
		}, nil
	}

	lead, enrichErr := s.normalizer.Enrich(ctx, lead)
	if enrichErr != nil {
		s.telemetry.logWarn(ctx, "listing enrichment unavailable", map[string]any{
			"listing_id":      lead.ListingID,
			"source_event_id": lead.SourceEventID,
			"error":           enrichErr.Error(),
		})
	}

	delivery, forwardErr := s.forwarder.Forward(ctx, lead)
	if forwardErr == nil {
		s.ledger.Record(fingerprint)
		fields["outcome"] = string(LeadOutcomeDelivered)
		fields["crm_record_id"] = delivery.CRMRecordID
		return LeadResult{
			Outcome:     LeadOutcomeDelivered,
			Fingerprint: fingerprint,
			CRMRecordID: delivery.CRMRecordID,
			Message:     messageDelivered,
		}, nil
	}

	fields["delivery_error"] = forwardErr.Error()
	queued, err := s.queue.Enqueue(ctx, lead, fingerprint)
	if err != nil {
		return LeadResult{}, err
	}
	s.ledger.Record(fingerprint)
	fields["outcome"] = string(LeadOutcomeQueued)
	fields["queue_id"] = queued.ID
	return LeadResult{
		Outcome:     LeadOutcomeQueued,
		Fingerprint: fingerprint,
		QueueID:     queued.ID,
		Message:     messageQueued,
	}, nil
}

func (s *Service) PendingLeads(ctx context.Context) ([]QueuedLead, error) {
	return s.queue.List(ctx)
}

// RetryPending drains the queue once through the forwarder.
func (s *Service) RetryPending(ctx context.Context) (result DrainResult, err error) {
	startedAt := s.now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "retry_pending", err, map[string]any{
			"attempted": result.Attempted,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"remaining": result.Remaining,
		})
	}()
	return s.queue.Drain(ctx)
}

func (s *Service) PurgePending(ctx context.Context, id string) (err error) {
	startedAt := s.now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "purge_pending", err, map[string]any{
			"queue_id": strings.TrimSpace(id),
		})
	}()
	return s.queue.Purge(ctx, id)
}

func (s *Service) Health(context.Context) HealthStatus {
	now := s.now()
	return HealthStatus{
		Status:    HealthStatusHealthy,
		Timestamp: now,
		Uptime:    now.Sub(s.startedAt),
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}
