package core

import (
	"strings"
	"time"
)

type Upstream string

const (
	UpstreamSource Upstream = "propertyfinder"
	UpstreamCRM    Upstream = "zoho"
)

const (
	NotAvailable     = "N/A"
	UnknownFirstName = "Unknown"
	PlaceholderName  = "Lead"
)

type PayloadShape string

const (
	PayloadShapeNested PayloadShape = "nested"
	PayloadShapeFlat   PayloadShape = "flat"
)

type LeadOutcome string

const (
	LeadOutcomeDelivered LeadOutcome = "delivered"
	LeadOutcomeDuplicate LeadOutcome = "duplicate"
	LeadOutcomeQueued    LeadOutcome = "queued"
)

// AccessToken is a bearer credential held in memory only.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

func (t AccessToken) Valid(now time.Time) bool {
	return strings.TrimSpace(t.Value) != "" && now.Before(t.ExpiresAt)
}

// InboundRequest is the raw webhook call as received. Body must be the exact
// bytes the sender signed.
type InboundRequest struct {
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

type Enrichment struct {
	PropertyType string `json:"propertyType"`
	ProjectName  string `json:"projectName"`
	Title        string `json:"title"`
	Location     string `json:"location"`
	Price        string `json:"price"`
	Bedrooms     string `json:"bedrooms"`
	Size         string `json:"size"`
}

func UnavailableEnrichment() Enrichment {
	return Enrichment{}.WithDefaults()
}

// WithDefaults replaces every blank field with NotAvailable.
func (e Enrichment) WithDefaults() Enrichment {
	fields := []*string{
		&e.PropertyType,
		&e.ProjectName,
		&e.Title,
		&e.Location,
		&e.Price,
		&e.Bedrooms,
		&e.Size,
	}
	for _, field := range fields {
		*field = strings.TrimSpace(*field)
		if *field == "" {
			*field = NotAvailable
		}
	}
	return e
}

// CanonicalLead is the normalized lead record. Empty strings stand for absent
// values; at least one of Email or Phone is always set.
type CanonicalLead struct {
	FirstName        string      `json:"firstName"`
	LastName         string      `json:"lastName"`
	Email            string      `json:"email,omitempty"`
	Phone            string      `json:"phone,omitempty"`
	Mobile           string      `json:"mobile,omitempty"`
	ListingID        string      `json:"listingId,omitempty"`
	ListingReference string      `json:"listingReference,omitempty"`
	Channel          string      `json:"channel,omitempty"`
	SourceEventID    string      `json:"sourceEventId,omitempty"`
	Shape            string      `json:"shape,omitempty"`
	Enrichment       *Enrichment `json:"enrichment,omitempty"`
}

func (l CanonicalLead) HasContact() bool {
	return strings.TrimSpace(l.Email) != "" || strings.TrimSpace(l.Phone) != ""
}

type QueuedLead struct {
	ID            string        `json:"id"`
	Fingerprint   string        `json:"fingerprint"`
	Lead          CanonicalLead `json:"lead"`
	EnqueuedAt    time.Time     `json:"enqueuedAt"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt *time.Time    `json:"lastAttemptAt,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
}

type DeliveryResult struct {
	CRMRecordID string
	Metadata    map[string]any
}

type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// QueueSettlement is the outcome of one drain pass applied to the store in a
// single mutation.
type QueueSettlement struct {
	Delivered []string
	Failed    []QueuedLead
}

func (s QueueSettlement) Empty() bool {
	return len(s.Delivered) == 0 && len(s.Failed) == 0
}

type LeadResult struct {
	Outcome     LeadOutcome
	Fingerprint string
	CRMRecordID string
	QueueID     string
	Message     string
}

type HealthStatus struct {
	Status    string
	Timestamp time.Time
	Uptime    time.Duration
}
