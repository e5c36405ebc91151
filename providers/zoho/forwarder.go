package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/transport"
)

const recordStatusSuccess = "success"

type tokenInvalidator interface {
	Invalidate(upstream core.Upstream)
}

// Forwarder creates one CRM record per lead. No duplicate_check_fields are
// sent, so the CRM accepts several inquiries from the same contact.
type Forwarder struct {
	client   transport.Client
	tokens   core.TokenSource
	endpoint string
	options  RecordOptions
}

func NewForwarder(client transport.Client, tokens core.TokenSource, cfg core.CRMConfig) (*Forwarder, error) {
	if client == nil {
		return nil, fmt.Errorf("zoho: transport client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("zoho: token source is required")
	}
	apiDomain := strings.TrimRight(strings.TrimSpace(cfg.APIDomain), "/")
	module := strings.Trim(strings.TrimSpace(cfg.Module), "/")
	if apiDomain == "" || module == "" {
		return nil, fmt.Errorf("zoho: api domain and module are required")
	}
	return &Forwarder{
		client:   client,
		tokens:   tokens,
		endpoint: apiDomain + "/crm/v2/" + module,
		options: RecordOptions{
			LeadSource:       strings.TrimSpace(cfg.LeadSource),
			EnrichmentFields: cfg.EnrichmentFields,
		},
	}, nil
}

func (f *Forwarder) Endpoint() string {
	return f.endpoint
}

func (f *Forwarder) Forward(ctx context.Context, lead core.CanonicalLead) (core.DeliveryResult, error) {
	token, err := f.tokens.Token(ctx, core.UpstreamCRM)
	if err != nil {
		return core.DeliveryResult{}, core.NewDeliveryError("zoho: crm token unavailable", err, nil)
	}

	payload, err := json.Marshal(map[string]any{
		"data": []map[string]any{BuildRecord(lead, f.options)},
	})
	if err != nil {
		return core.DeliveryResult{}, core.NewDeliveryError("zoho: encode lead record", err, nil)
	}

	res, err := f.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    f.endpoint,
		Headers: map[string]string{
			"Authorization": "Zoho-oauthtoken " + token,
			"Content-Type":  "application/json",
			"Accept":        "application/json",
		},
		Body: payload,
	})
	if err != nil {
		return core.DeliveryResult{}, core.NewDeliveryError("zoho: create record request failed", err, nil)
	}

	if res.StatusCode == http.StatusUnauthorized {
		if invalidator, ok := f.tokens.(tokenInvalidator); ok {
			invalidator.Invalidate(core.UpstreamCRM)
		}
	}
	envelope, parseErr := parseEnvelope(res.Body)
	if !res.Success() {
		metadata := map[string]any{
			"status_code": res.StatusCode,
			"attempts":    res.Attempts,
		}
		if parseErr == nil {
			metadata["code"] = envelope.topLevelCode()
		}
		return core.DeliveryResult{}, core.NewDeliveryError(
			fmt.Sprintf("zoho: create record returned %d", res.StatusCode),
			nil,
			metadata,
		)
	}
	if parseErr != nil {
		return core.DeliveryResult{}, core.NewDeliveryError("zoho: malformed create record response", parseErr, map[string]any{
			"status_code": res.StatusCode,
		})
	}
	return envelope.result(res)
}

type recordResult struct {
	Code    string          `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type recordEnvelope struct {
	Data    []recordResult `json:"data"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
}

func parseEnvelope(body []byte) (recordEnvelope, error) {
	envelope := recordEnvelope{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return envelope, fmt.Errorf("zoho: empty response body")
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return recordEnvelope{}, fmt.Errorf("zoho: decode response: %w", err)
	}
	return envelope, nil
}

func (e recordEnvelope) topLevelCode() string {
	if strings.TrimSpace(e.Code) != "" {
		return e.Code
	}
	if len(e.Data) > 0 {
		return e.Data[0].Code
	}
	return ""
}

// result reads the first per-record status. A 2xx envelope still fails when
// that record reports anything other than success.
func (e recordEnvelope) result(res transport.Response) (core.DeliveryResult, error) {
	if len(e.Data) == 0 {
		return core.DeliveryResult{}, core.NewDeliveryError("zoho: response envelope has no records", nil, map[string]any{
			"status_code": res.StatusCode,
			"code":        e.Code,
		})
	}
	first := e.Data[0]
	metadata := map[string]any{
		"status_code": res.StatusCode,
		"code":        first.Code,
		"status":      first.Status,
		"attempts":    res.Attempts,
	}
	if !strings.EqualFold(strings.TrimSpace(first.Status), recordStatusSuccess) {
		metadata["message"] = first.Message
		if field := detailString(first.Details, "api_name"); field != "" {
			metadata["field"] = field
		}
		return core.DeliveryResult{}, core.NewDeliveryError(
			fmt.Sprintf("zoho: record rejected: %s", firstNonEmpty(first.Code, first.Message, "unknown error")),
			nil,
			metadata,
		)
	}
	recordID := detailString(first.Details, "id")
	if recordID == "" {
		return core.DeliveryResult{}, core.NewDeliveryError("zoho: success response is missing the record id", nil, metadata)
	}
	return core.DeliveryResult{CRMRecordID: recordID, Metadata: metadata}, nil
}

func detailString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	details := map[string]any{}
	if err := json.Unmarshal(raw, &details); err != nil {
		return ""
	}
	switch typed := details[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return fmt.Sprintf("%.0f", typed)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ core.Forwarder = (*Forwarder)(nil)
