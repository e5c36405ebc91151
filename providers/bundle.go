package providers

import (
	"fmt"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-leadrelay/auth"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/providers/propertyfinder"
	"github.com/goliatone/go-leadrelay/providers/zoho"
	"github.com/goliatone/go-leadrelay/transport"
)

// Bundle is the set of upstream collaborators built from one config. The
// Enricher is nil when listing enrichment is disabled.
type Bundle struct {
	Broker    *auth.Broker
	Client    transport.Client
	Forwarder *zoho.Forwarder
	Enricher  *propertyfinder.ListingEnricher
}

type BundleOption func(*bundleBuilder)

type bundleBuilder struct {
	client transport.Client
	cache  repositorycache.CacheService
	logger core.Logger
}

// WithClient replaces the REST client built from the HTTP config.
func WithClient(client transport.Client) BundleOption {
	return func(b *bundleBuilder) {
		b.client = client
	}
}

// WithListingCache replaces the listing cache service.
func WithListingCache(cacheService repositorycache.CacheService) BundleOption {
	return func(b *bundleBuilder) {
		b.cache = cacheService
	}
}

func WithLogger(logger core.Logger) BundleOption {
	return func(b *bundleBuilder) {
		b.logger = logger
	}
}

func NewBundle(cfg core.Config, opts ...BundleOption) (*Bundle, error) {
	builder := bundleBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	if builder.client == nil {
		builder.client = transport.NewRESTClientFromConfig(cfg.HTTP, builder.logger)
	}

	broker := auth.NewBroker(auth.BrokerConfig{
		SafetyMargin: cfg.Tokens.SafetyMargin,
		DefaultTTL:   cfg.Tokens.DefaultTTL,
		Logger:       builder.logger,
	})
	broker.Register(core.UpstreamCRM, zoho.NewRefreshTokenExchanger(builder.client, cfg.CRM))

	forwarder, err := zoho.NewForwarder(builder.client, broker, cfg.CRM)
	if err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("providers: %v", err))
	}
	bundle := &Bundle{
		Broker:    broker,
		Client:    builder.client,
		Forwarder: forwarder,
	}

	if !cfg.Source.Enrichment {
		return bundle, nil
	}
	broker.Register(core.UpstreamSource, propertyfinder.NewTokenExchanger(builder.client, cfg.Source))
	if builder.cache == nil && cfg.Source.ListingTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.Source.ListingTTL
		builder.cache, err = repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, core.NewConfigError(fmt.Sprintf("providers: listing cache: %v", err))
		}
	}
	enricher, err := propertyfinder.NewListingEnricher(builder.client, broker, cfg.Source, builder.cache)
	if err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("providers: %v", err))
	}
	bundle.Enricher = enricher
	return bundle, nil
}

// ServiceOptions returns the core options that plug this bundle into a
// relay service.
func (b *Bundle) ServiceOptions() []core.Option {
	if b == nil {
		return nil
	}
	opts := []core.Option{core.WithForwarder(b.Forwarder)}
	if b.Enricher != nil {
		opts = append(opts, core.WithListingEnricher(b.Enricher))
	}
	return opts
}
