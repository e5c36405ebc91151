package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint derives the dedup key for a lead from its source event id,
// email, and phone. Email case and phone punctuation do not change the key.
// Without an event id the listing id and reference join the key, so the same
// contact asking about another listing is a new lead.
func Fingerprint(lead CanonicalLead) string {
	eventID := strings.TrimSpace(lead.SourceEventID)
	parts := []string{
		eventID,
		strings.ToLower(strings.TrimSpace(lead.Email)),
		phoneDigits(lead.Phone),
	}
	if eventID == "" {
		parts = append(parts,
			strings.TrimSpace(lead.ListingID),
			strings.TrimSpace(lead.ListingReference),
		)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func phoneDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
