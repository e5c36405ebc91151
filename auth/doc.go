// Package auth holds the credential broker that hands out short-lived access
// tokens for the listing platform and the CRM.
//
// Each upstream registers an Exchanger. Tokens are cached until
// serverTTL - SafetyMargin has elapsed, or DefaultTTL when the upstream does
// not report a lifetime.
package auth
