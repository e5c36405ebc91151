package zoho

import (
	"strings"

	"github.com/goliatone/go-leadrelay/core"
)

type RecordOptions struct {
	LeadSource       string
	EnrichmentFields bool
}

// BuildRecord maps a canonical lead onto Zoho Leads field names. Empty
// contact fields are omitted; descriptive lines use the not-available marker.
func BuildRecord(lead core.CanonicalLead, opts RecordOptions) map[string]any {
	record := map[string]any{
		"First_Name":  lead.FirstName,
		"Last_Name":   lead.LastName,
		"Description": BuildDescription(lead),
	}
	setIfPresent(record, "Email", lead.Email)
	setIfPresent(record, "Phone", lead.Phone)
	setIfPresent(record, "Mobile", lead.Mobile)
	setIfPresent(record, "Lead_Source", opts.LeadSource)

	if opts.EnrichmentFields && lead.Enrichment != nil {
		enrichment := lead.Enrichment.WithDefaults()
		record["Property_Type"] = enrichment.PropertyType
		record["Project_Name"] = enrichment.ProjectName
		record["Listing_Title"] = enrichment.Title
		record["Location"] = enrichment.Location
		record["Price"] = enrichment.Price
		record["Bedrooms"] = enrichment.Bedrooms
		record["Size"] = enrichment.Size
	}
	return record
}

func BuildDescription(lead core.CanonicalLead) string {
	lines := []string{}
	if lead.Enrichment != nil {
		enrichment := lead.Enrichment.WithDefaults()
		lines = append(lines,
			"Property Type: "+enrichment.PropertyType,
			"Project: "+enrichment.ProjectName,
			"Listing: "+enrichment.Title,
			"Location: "+enrichment.Location,
			"Price: "+enrichment.Price,
			"Bedrooms: "+enrichment.Bedrooms,
			"Size: "+enrichment.Size,
		)
	}
	lines = append(lines,
		"Listing Reference: "+orNotAvailable(lead.ListingReference),
		"Listing ID: "+orNotAvailable(lead.ListingID),
		"Channel: "+orNotAvailable(lead.Channel),
		"Source Event: "+orNotAvailable(lead.SourceEventID),
	)
	return strings.Join(lines, "\n")
}

func setIfPresent(record map[string]any, key string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		record[key] = trimmed
	}
}

func orNotAvailable(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return core.NotAvailable
}
