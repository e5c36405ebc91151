package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseGrant decodes a token endpoint response. Both snake_case and camelCase
// field names are accepted; expires_in is read as seconds.
func ParseGrant(body []byte) (Grant, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	payload := map[string]any{}
	if err := decoder.Decode(&payload); err != nil {
		return Grant{}, fmt.Errorf("auth: decode token response: %w", err)
	}
	if upstreamErr := readString(payload, "error", "error_description"); upstreamErr != "" {
		return Grant{}, fmt.Errorf("auth: token endpoint returned error %q", upstreamErr)
	}
	token := readString(payload, "access_token", "accessToken", "token")
	if token == "" {
		return Grant{}, fmt.Errorf("auth: token response is missing access_token")
	}
	return Grant{
		AccessToken: token,
		ExpiresIn:   readSeconds(payload, "expires_in", "expiresIn", "expires_in_sec"),
		TokenType:   readString(payload, "token_type", "tokenType"),
	}, nil
}

func readString(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := metadata[key]
		if !ok || value == nil {
			continue
		}
		switch typed := value.(type) {
		case string:
			trimmed := strings.TrimSpace(typed)
			if trimmed != "" {
				return trimmed
			}
		case json.Number:
			return typed.String()
		case fmt.Stringer:
			trimmed := strings.TrimSpace(typed.String())
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func readSeconds(metadata map[string]any, keys ...string) time.Duration {
	for _, key := range keys {
		value, ok := metadata[key]
		if !ok || value == nil {
			continue
		}
		var seconds float64
		switch typed := value.(type) {
		case json.Number:
			parsed, err := typed.Float64()
			if err != nil {
				continue
			}
			seconds = parsed
		case float64:
			seconds = typed
		case int:
			seconds = float64(typed)
		case int64:
			seconds = float64(typed)
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
			if err != nil {
				continue
			}
			seconds = parsed
		default:
			continue
		}
		if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			continue
		}
		return time.Duration(seconds * float64(time.Second))
	}
	return 0
}
