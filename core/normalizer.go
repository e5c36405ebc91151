package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	contactTypeEmail  = "email"
	contactTypePhone  = "phone"
	contactTypeMobile = "mobile"
)

// Normalizer turns webhook bodies into CanonicalLead records. Enricher is
// optional; without it leads carry no enrichment block.
type Normalizer struct {
	Enricher ListingEnricher
}

func NewNormalizer(enricher ListingEnricher) *Normalizer {
	return &Normalizer{Enricher: enricher}
}

// Normalize parses body and then enriches the lead. The returned error is
// only ever a validation error; enrichment failures are absorbed.
func (n *Normalizer) Normalize(ctx context.Context, body []byte) (CanonicalLead, error) {
	lead, err := n.Parse(body)
	if err != nil {
		return CanonicalLead{}, err
	}
	lead, _ = n.Enrich(ctx, lead)
	return lead, nil
}

// Parse is the deterministic part of normalization: shape detection, name
// split, and contact extraction.
func (n *Normalizer) Parse(body []byte) (CanonicalLead, error) {
	root, err := decodeObject(body)
	if err != nil {
		return CanonicalLead{}, err
	}

	shape := PayloadShapeFlat
	envelope := root
	if nested, ok := root["payload"].(map[string]any); ok {
		shape = PayloadShapeNested
		envelope = nested
	}

	sender, ok := envelope["sender"].(map[string]any)
	if !ok {
		return CanonicalLead{}, NewValidationError("sender", "sender is required")
	}

	first, last := SplitName(readAnyString(sender["name"]))
	contacts := extractContacts(sender["contacts"])

	lead := CanonicalLead{
		FirstName:     first,
		LastName:      last,
		Email:         contacts[contactTypeEmail],
		Phone:         contacts[contactTypePhone],
		Mobile:        contacts[contactTypeMobile],
		Channel:       readAnyString(envelope["channel"]),
		SourceEventID: firstNonEmpty(readAnyString(root["id"]), readAnyString(envelope["id"])),
		Shape:         string(shape),
	}
	if lead.Phone == "" {
		lead.Phone = lead.Mobile
	}
	if listing, ok := envelope["listing"].(map[string]any); ok {
		lead.ListingID = readAnyString(listing["id"])
		lead.ListingReference = firstNonEmpty(readAnyString(listing["reference"]), readAnyString(listing["ref"]))
	}

	if !lead.HasContact() {
		return CanonicalLead{}, NewValidationError("sender.contacts", "an email or phone contact is required")
	}
	return lead, nil
}

// Enrich attaches listing details. The lead is always returned usable; a
// non-nil error only reports why the enrichment block fell back to
// NotAvailable values.
func (n *Normalizer) Enrich(ctx context.Context, lead CanonicalLead) (CanonicalLead, error) {
	if n == nil || n.Enricher == nil {
		return lead, nil
	}
	fallback := UnavailableEnrichment()
	lead.Enrichment = &fallback
	if strings.TrimSpace(lead.ListingID) == "" {
		return lead, nil
	}

	enrichment, err := n.Enricher.FetchListing(ctx, lead.ListingID)
	if err != nil {
		return lead, fmt.Errorf("core: listing %s enrichment: %w", lead.ListingID, err)
	}
	enrichment = enrichment.WithDefaults()
	lead.Enrichment = &enrichment
	return lead, nil
}

// SplitName splits a full name on whitespace. A single token gets the
// placeholder surname and an empty name becomes "Unknown Lead".
func SplitName(fullName string) (string, string) {
	tokens := strings.Fields(fullName)
	switch len(tokens) {
	case 0:
		return UnknownFirstName, PlaceholderName
	case 1:
		return tokens[0], PlaceholderName
	default:
		return tokens[0], strings.Join(tokens[1:], " ")
	}
}

func extractContacts(raw any) map[string]string {
	found := map[string]string{}
	entries, ok := raw.([]any)
	if !ok {
		return found
	}
	for _, entry := range entries {
		contact, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		kind := strings.ToLower(readAnyString(contact["type"]))
		switch kind {
		case contactTypeEmail, contactTypePhone, contactTypeMobile:
		default:
			continue
		}
		if _, exists := found[kind]; exists {
			continue
		}
		if value := readAnyString(contact["value"]); value != "" {
			found[kind] = value
		}
	}
	return found
}

func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, NewValidationError("body", "request body is empty")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var root map[string]any
	if err := decoder.Decode(&root); err != nil {
		return nil, NewValidationError("body", "request body must be a JSON object")
	}
	if root == nil {
		return nil, NewValidationError("body", "request body must be a JSON object")
	}
	return root, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case bool, float64, int, int64:
		return fmt.Sprint(typed)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
