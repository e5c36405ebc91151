// Package providers wires the upstream integrations of the relay: the listing
// platform (token exchange and listing enrichment) and the CRM (refresh-token
// exchange and record creation).
//
// Subpackages own the wire formats; this package only assembles them around a
// shared credential broker and REST client.
package providers
