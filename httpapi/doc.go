// Package httpapi exposes the relay over HTTP with gin: the signed webhook
// receiver, retry queue inspection and drain, and health and metrics endpoints.
package httpapi
