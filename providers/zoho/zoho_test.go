package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-leadrelay/auth"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/providers/devkit"
	"github.com/goliatone/go-leadrelay/transport"
)

func testCRMConfig() core.CRMConfig {
	cfg := core.DefaultConfig().CRM
	cfg.TokenURL = "https://accounts.zoho.example/oauth/v2/token"
	cfg.APIDomain = "https://www.zohoapis.example/"
	cfg.ClientID = "client_1"
	cfg.ClientSecret = "secret_1"
	cfg.RefreshToken = "refresh_1"
	return cfg
}

func testLead() core.CanonicalLead {
	return core.CanonicalLead{
		FirstName:        "Jane",
		LastName:         "Doe",
		Email:            "jane@example.com",
		Phone:            "+971501234567",
		ListingID:        "L-77",
		ListingReference: "REF-77",
		Channel:          "whatsapp",
		SourceEventID:    "evt_100",
	}
}

const successEnvelope = `{"data":[{"code":"SUCCESS","details":{"id":"5725767000000524157","Created_Time":"2026-03-01T09:00:00+04:00"},"message":"record added","status":"success"}]}`

func newForwarder(t *testing.T, fake *devkit.FakeTransport, cfg core.CRMConfig) (*Forwarder, *auth.Broker) {
	t.Helper()
	broker := auth.NewBroker(auth.BrokerConfig{})
	broker.Register(core.UpstreamCRM, NewRefreshTokenExchanger(fake, cfg))
	forwarder, err := NewForwarder(fake, broker, cfg)
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	return forwarder, broker
}

func TestRefreshTokenExchanger_PostsRefreshGrant(t *testing.T) {
	fake := devkit.NewFakeTransport(devkit.JSON(200, `{"access_token":"1000.abc","api_domain":"https://www.zohoapis.com","token_type":"Bearer","expires_in":3600}`))
	grant, err := NewRefreshTokenExchanger(fake, testCRMConfig()).Exchange(context.Background())
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if grant.AccessToken != "1000.abc" || grant.ExpiresIn != time.Hour {
		t.Fatalf("unexpected grant %#v", grant)
	}
	request := fake.Requests()[0]
	form, err := url.ParseQuery(string(request.Body))
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "refresh_1" || form.Get("client_id") != "client_1" {
		t.Fatalf("unexpected refresh form %v", form)
	}
	if request.Headers["Content-Type"] != "application/x-www-form-urlencoded" {
		t.Fatalf("expected form content type, got %q", request.Headers["Content-Type"])
	}
}

func TestRefreshTokenExchanger_ErrorsInsideOKEnvelope(t *testing.T) {
	fake := devkit.NewFakeTransport(devkit.JSON(200, `{"error":"invalid_code"}`))
	if _, err := NewRefreshTokenExchanger(fake, testCRMConfig()).Exchange(context.Background()); !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	fake = devkit.NewFakeTransport(devkit.JSON(500, `{}`))
	if _, err := NewRefreshTokenExchanger(fake, testCRMConfig()).Exchange(context.Background()); !core.IsAuthError(err) {
		t.Fatalf("expected auth error for 500, got %v", err)
	}
}

func TestForwarder_CreatesRecord(t *testing.T) {
	fake := devkit.NewFakeTransport().
		Route("/oauth/v2/token", devkit.JSON(200, `{"access_token":"1000.abc","expires_in":3600}`)).
		Route("/crm/v2/Leads", devkit.JSON(201, successEnvelope))
	forwarder, _ := newForwarder(t, fake, testCRMConfig())

	result, err := forwarder.Forward(context.Background(), testLead())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if result.CRMRecordID != "5725767000000524157" {
		t.Fatalf("unexpected record id %q", result.CRMRecordID)
	}

	creates := fake.RequestsTo("/crm/v2/Leads")
	if len(creates) != 1 {
		t.Fatalf("expected one create call, got %d", len(creates))
	}
	if creates[0].URL != "https://www.zohoapis.example/crm/v2/Leads" {
		t.Fatalf("unexpected endpoint %q", creates[0].URL)
	}
	if creates[0].Headers["Authorization"] != "Zoho-oauthtoken 1000.abc" {
		t.Fatalf("unexpected authorization header %q", creates[0].Headers["Authorization"])
	}
	payload := map[string][]map[string]any{}
	if err := json.Unmarshal(creates[0].Body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	record := payload["data"][0]
	if record["First_Name"] != "Jane" || record["Last_Name"] != "Doe" || record["Lead_Source"] != "Property Finder" {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, ok := record["Mobile"]; ok {
		t.Fatalf("expected empty mobile to be omitted")
	}
	if _, ok := payload["duplicate_check_fields"]; ok {
		t.Fatalf("expected crm-side duplicate checks to stay off")
	}
}

func TestForwarder_RecordLevelErrorIsDeliveryError(t *testing.T) {
	fake := devkit.NewFakeTransport().
		Route("/oauth/v2/token", devkit.JSON(200, `{"access_token":"1000.abc"}`)).
		Route("/crm/v2/Leads", devkit.JSON(200, `{"data":[{"code":"INVALID_DATA","details":{"api_name":"Email"},"message":"invalid data","status":"error"}]}`))
	forwarder, _ := newForwarder(t, fake, testCRMConfig())

	_, err := forwarder.Forward(context.Background(), testLead())
	if !core.IsDeliveryError(err) {
		t.Fatalf("expected delivery error for record-level failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "INVALID_DATA") {
		t.Fatalf("expected record code in error, got %v", err)
	}
}

func TestForwarder_EnvelopeFailures(t *testing.T) {
	cases := map[string]devkit.Script{
		"no records":       devkit.JSON(200, `{"data":[]}`),
		"missing id":       devkit.JSON(200, `{"data":[{"code":"SUCCESS","details":{},"status":"success"}]}`),
		"not json":         devkit.JSON(200, `<html>gateway</html>`),
		"server error":     devkit.JSON(503, `{"code":"INTERNAL_ERROR"}`),
		"transport failed": devkit.Failure(errors.New("connection reset")),
	}
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			fake := devkit.NewFakeTransport().
				Route("/oauth/v2/token", devkit.JSON(200, `{"access_token":"1000.abc"}`)).
				Route("/crm/v2/Leads", script)
			forwarder, _ := newForwarder(t, fake, testCRMConfig())
			if _, err := forwarder.Forward(context.Background(), testLead()); !core.IsDeliveryError(err) {
				t.Fatalf("expected delivery error, got %v", err)
			}
		})
	}
}

func TestForwarder_TokenFailureIsReported(t *testing.T) {
	fake := devkit.NewFakeTransport().Route("/oauth/v2/token", devkit.JSON(200, `{"error":"invalid_client"}`))
	forwarder, _ := newForwarder(t, fake, testCRMConfig())
	_, err := forwarder.Forward(context.Background(), testLead())
	if !core.IsDeliveryError(err) || !core.IsAuthError(err) {
		t.Fatalf("expected delivery error wrapping auth error, got %v", err)
	}
	if len(fake.RequestsTo("/crm/v2/Leads")) != 0 {
		t.Fatalf("expected no create call without a token")
	}
}

func TestForwarder_UnauthorizedDropsCachedToken(t *testing.T) {
	fake := devkit.NewFakeTransport().
		Route("/oauth/v2/token", devkit.JSON(200, `{"access_token":"1000.abc","expires_in":3600}`)).
		Route("/crm/v2/Leads", devkit.JSON(401, `{"code":"INVALID_TOKEN"}`), devkit.JSON(201, successEnvelope))
	forwarder, broker := newForwarder(t, fake, testCRMConfig())

	if _, err := forwarder.Forward(context.Background(), testLead()); !core.IsDeliveryError(err) {
		t.Fatalf("expected delivery error on 401, got %v", err)
	}
	if _, ok := broker.Cached(core.UpstreamCRM); ok {
		t.Fatalf("expected token to be invalidated")
	}
	if _, err := forwarder.Forward(context.Background(), testLead()); err != nil {
		t.Fatalf("second forward: %v", err)
	}
	if got := len(fake.RequestsTo("/oauth/v2/token")); got != 2 {
		t.Fatalf("expected a fresh token exchange, got %d", got)
	}
}

func TestBuildRecord_EnrichmentMapping(t *testing.T) {
	lead := testLead()
	lead.Enrichment = &core.Enrichment{PropertyType: "Apartment", Title: "Marina view"}
	record := BuildRecord(lead, RecordOptions{LeadSource: "Property Finder", EnrichmentFields: true})
	if record["Property_Type"] != "Apartment" || record["Location"] != core.NotAvailable {
		t.Fatalf("unexpected enrichment fields %#v", record)
	}
	description := record["Description"].(string)
	for _, line := range []string{"Property Type: Apartment", "Price: N/A", "Listing Reference: REF-77", "Channel: whatsapp"} {
		if !strings.Contains(description, line) {
			t.Fatalf("expected description line %q in %q", line, description)
		}
	}

	bare := BuildDescription(core.CanonicalLead{FirstName: "Omar", LastName: "Lead", Phone: "1"})
	if strings.Contains(bare, "Property Type") || !strings.Contains(bare, "Listing Reference: N/A") {
		t.Fatalf("unexpected description without enrichment %q", bare)
	}
	if _, ok := BuildRecord(lead, RecordOptions{})["Property_Type"]; ok {
		t.Fatalf("expected discrete enrichment fields only when enabled")
	}
}

// TestForwarder_AgainstHTTPServer runs the forwarder over a real REST client
// to cover retries on a transient CRM failure.
func TestForwarder_AgainstHTTPServer(t *testing.T) {
	var creates int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v2/token":
			_, _ = w.Write([]byte(`{"access_token":"1000.live","expires_in":3600}`))
		case "/crm/v2/Leads":
			if atomic.AddInt32(&creates, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"First_Name":"Jane"`) {
				t.Errorf("unexpected body on retry %s", body)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(successEnvelope))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := testCRMConfig()
	cfg.TokenURL = server.URL + "/oauth/v2/token"
	cfg.APIDomain = server.URL

	client := transport.NewRESTClient(server.Client())
	client.Sleep = func(context.Context, time.Duration) error { return nil }
	broker := auth.NewBroker(auth.BrokerConfig{})
	broker.Register(core.UpstreamCRM, NewRefreshTokenExchanger(client, cfg))
	forwarder, err := NewForwarder(client, broker, cfg)
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}

	result, err := forwarder.Forward(context.Background(), testLead())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if result.CRMRecordID != "5725767000000524157" || result.Metadata["attempts"] != 2 {
		t.Fatalf("unexpected result %#v", result)
	}
}
