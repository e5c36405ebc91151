// Package webhooks authenticates inbound listing-platform webhook calls.
//
// Verification runs over the raw request bytes before anything interprets
// them as JSON, and failures never carry payload contents.
package webhooks
