package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-leadrelay/core"
)

const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

// HeaderHMACVerifier checks an HMAC-SHA256 digest of the raw body carried in
// Header. Prefix, when set, is stripped before decoding (e.g. "sha256=").
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string
}

func NewVerifier(cfg core.WebhookConfig) HeaderHMACVerifier {
	return HeaderHMACVerifier{
		Header:   strings.TrimSpace(cfg.SignatureHeader),
		Prefix:   strings.TrimSpace(cfg.SignaturePrefix),
		Secret:   strings.TrimSpace(cfg.Secret),
		Encoding: EncodingHex,
	}
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	headerName := strings.TrimSpace(v.Header)
	if headerName == "" {
		return core.NewSignatureError("webhooks: signature header name is not configured", nil)
	}
	header := headerValue(req.Headers, headerName)
	if header == "" {
		return core.NewSignatureError(fmt.Sprintf("webhooks: %s signature header is required", headerName), nil)
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.NewSignatureError("webhooks: signature secret is required", nil)
	}
	signature := header
	if prefix := strings.TrimSpace(v.Prefix); prefix != "" {
		signature = strings.TrimPrefix(signature, prefix)
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return core.NewSignatureError("webhooks: signature value is required", nil)
	}

	provided, err := v.decode(signature)
	if err != nil {
		return core.NewSignatureError("webhooks: signature is not correctly encoded", err)
	}
	expected := Sign(secret, req.Body)
	if len(provided) != len(expected) {
		return core.NewSignatureError("webhooks: signature length mismatch", nil)
	}
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return core.NewSignatureError("webhooks: signature verification failed", nil)
	}
	return nil
}

func (v HeaderHMACVerifier) decode(signature string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(signature)
	default:
		return hex.DecodeString(strings.ToLower(signature))
	}
}

// Sign returns the raw HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the listing platform sends it.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
