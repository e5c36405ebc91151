// Package core holds the lead relay domain: canonical lead types, the
// normalizer, the dedup ledger, the retry queue, and the Service that chains
// them for each inbound webhook. Upstream clients, stores, and HTTP handlers
// live in sibling packages and plug in through the interfaces declared here.
package core
