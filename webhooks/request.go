package webhooks

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-leadrelay/core"
)

var ErrBodyTooLarge = errors.New("webhooks: request body exceeds limit")

// ReadRequest captures the raw body and the first value of every header.
// Bodies larger than maxBytes are refused; maxBytes <= 0 disables the limit.
func ReadRequest(r *http.Request, maxBytes int64, receivedAt time.Time) (core.InboundRequest, error) {
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	var reader io.Reader = r.Body
	if r.Body == nil {
		reader = http.NoBody
	}
	if maxBytes > 0 {
		reader = io.LimitReader(reader, maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return core.InboundRequest{}, err
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return core.InboundRequest{}, ErrBodyTooLarge
	}
	return core.InboundRequest{
		Headers:    headers,
		Body:       body,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}
