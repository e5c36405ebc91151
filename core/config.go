package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	QueueDriverFile     = "file"
	QueueDriverSQLite   = "sqlite"
	QueueDriverPostgres = "postgres"
)

type ServerConfig struct {
	Address         string        `koanf:"address" mapstructure:"address"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type WebhookConfig struct {
	Path            string `koanf:"path" mapstructure:"path"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	SignaturePrefix string `koanf:"signature_prefix" mapstructure:"signature_prefix"`
	Secret          string `koanf:"secret" mapstructure:"secret"`
	MaxBodyBytes    int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type SourceConfig struct {
	Name       string        `koanf:"name" mapstructure:"name"`
	TokenURL   string        `koanf:"token_url" mapstructure:"token_url"`
	APIKey     string        `koanf:"api_key" mapstructure:"api_key"`
	APISecret  string        `koanf:"api_secret" mapstructure:"api_secret"`
	ListingURL string        `koanf:"listing_url" mapstructure:"listing_url"`
	Enrichment bool          `koanf:"enrichment" mapstructure:"enrichment"`
	ListingTTL time.Duration `koanf:"listing_ttl" mapstructure:"listing_ttl"`
}

type CRMConfig struct {
	TokenURL         string `koanf:"token_url" mapstructure:"token_url"`
	ClientID         string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret     string `koanf:"client_secret" mapstructure:"client_secret"`
	RefreshToken     string `koanf:"refresh_token" mapstructure:"refresh_token"`
	APIDomain        string `koanf:"api_domain" mapstructure:"api_domain"`
	Module           string `koanf:"module" mapstructure:"module"`
	LeadSource       string `koanf:"lead_source" mapstructure:"lead_source"`
	EnrichmentFields bool   `koanf:"enrichment_fields" mapstructure:"enrichment_fields"`
}

type TokenConfig struct {
	SafetyMargin time.Duration `koanf:"safety_margin" mapstructure:"safety_margin"`
	DefaultTTL   time.Duration `koanf:"default_ttl" mapstructure:"default_ttl"`
}

type HTTPConfig struct {
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type DedupConfig struct {
	Capacity int `koanf:"capacity" mapstructure:"capacity"`
}

// QueueConfig selects the retry queue store. DrainInterval enables the
// in-process drain scheduler; zero leaves draining to external triggers.
type QueueConfig struct {
	Driver        string        `koanf:"driver" mapstructure:"driver"`
	Path          string        `koanf:"path" mapstructure:"path"`
	DSN           string        `koanf:"dsn" mapstructure:"dsn"`
	DrainInterval time.Duration `koanf:"drain_interval" mapstructure:"drain_interval"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Format string `koanf:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" mapstructure:"enabled"`
	Path    string `koanf:"path" mapstructure:"path"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	Server      ServerConfig  `koanf:"server" mapstructure:"server"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Source      SourceConfig  `koanf:"source" mapstructure:"source"`
	CRM         CRMConfig     `koanf:"crm" mapstructure:"crm"`
	Tokens      TokenConfig   `koanf:"tokens" mapstructure:"tokens"`
	HTTP        HTTPConfig    `koanf:"http" mapstructure:"http"`
	Dedup       DedupConfig   `koanf:"dedup" mapstructure:"dedup"`
	Queue       QueueConfig   `koanf:"queue" mapstructure:"queue"`
	Metrics     MetricsConfig `koanf:"metrics" mapstructure:"metrics"`
	Logging     LoggingConfig `koanf:"logging" mapstructure:"logging"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "leadrelay",
		Server: ServerConfig{
			Address:         ":3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			Path:            "/propertyfinder-lead",
			SignatureHeader: "X-Signature",
			MaxBodyBytes:    1 << 20,
		},
		Source: SourceConfig{
			Name:       "Property Finder",
			TokenURL:   "https://atlas.propertyfinder.com/v1/auth/token",
			ListingURL: "https://atlas.propertyfinder.com/v1/listings",
			ListingTTL: 15 * time.Minute,
		},
		CRM: CRMConfig{
			TokenURL:   "https://accounts.zoho.com/oauth/v2/token",
			APIDomain:  "https://www.zohoapis.com",
			Module:     "Leads",
			LeadSource: "Property Finder",
		},
		Tokens: TokenConfig{
			SafetyMargin: 10 * time.Minute,
			DefaultTTL:   50 * time.Minute,
		},
		HTTP: HTTPConfig{
			Timeout:        15 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Dedup: DedupConfig{
			Capacity: 1000,
		},
		Queue: QueueConfig{
			Driver: QueueDriverFile,
			Path:   "data/pending-leads.json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports the first missing or inconsistent setting. A config that
// fails here must stop the process before it serves traffic.
func (c Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"service_name", c.ServiceName},
		{"webhook.path", c.Webhook.Path},
		{"webhook.signature_header", c.Webhook.SignatureHeader},
		{"webhook.secret", c.Webhook.Secret},
		{"crm.token_url", c.CRM.TokenURL},
		{"crm.client_id", c.CRM.ClientID},
		{"crm.client_secret", c.CRM.ClientSecret},
		{"crm.refresh_token", c.CRM.RefreshToken},
		{"crm.api_domain", c.CRM.APIDomain},
		{"crm.module", c.CRM.Module},
	}
	if c.Source.Enrichment {
		required = append(required,
			struct{ key, value string }{"source.token_url", c.Source.TokenURL},
			struct{ key, value string }{"source.api_key", c.Source.APIKey},
			struct{ key, value string }{"source.api_secret", c.Source.APISecret},
			struct{ key, value string }{"source.listing_url", c.Source.ListingURL},
		)
	}
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			return NewConfigError(fmt.Sprintf("core: %s is required", item.key))
		}
	}

	if c.Dedup.Capacity <= 0 {
		return NewConfigError("core: dedup.capacity must be positive")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return NewConfigError("core: http.max_attempts must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		return NewConfigError("core: http.timeout must be positive")
	}
	if c.Tokens.DefaultTTL <= 0 {
		return NewConfigError("core: tokens.default_ttl must be positive")
	}
	if c.Queue.DrainInterval < 0 {
		return NewConfigError("core: queue.drain_interval must not be negative")
	}
	if c.Tokens.SafetyMargin < 0 {
		return NewConfigError("core: tokens.safety_margin must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Queue.Driver)) {
	case QueueDriverFile:
		if strings.TrimSpace(c.Queue.Path) == "" {
			return NewConfigError("core: queue.path is required for the file driver")
		}
	case QueueDriverSQLite, QueueDriverPostgres:
		if strings.TrimSpace(c.Queue.DSN) == "" {
			return NewConfigError(fmt.Sprintf("core: queue.dsn is required for the %s driver", c.Queue.Driver))
		}
	default:
		return NewConfigError(fmt.Sprintf("core: unsupported queue.driver %q", c.Queue.Driver))
	}
	return nil
}
