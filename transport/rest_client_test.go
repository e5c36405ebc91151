package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func newTestClient(server *httptest.Server) (*RESTClient, *[]time.Duration) {
	client := NewRESTClient(server.Client())
	delays := []time.Duration{}
	client.Sleep = func(_ context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}
	client.Retry = ExponentialRetryPolicy{Initial: 100 * time.Millisecond, Max: time.Second}
	return client, &delays
}

func TestRESTClient_DoSendsMethodHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "search" {
			t.Errorf("expected query value, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Zoho-oauthtoken abc" {
			t.Errorf("expected auth header, got %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("expected default header, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"data":[]}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("X-Request-Id", "req_1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	client.DefaultHeaders["Accept"] = "application/json"
	res, err := client.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     server.URL + "/crm/v2/Leads",
		Query:   map[string]string{"q": "search"},
		Headers: map[string]string{"Authorization": "Zoho-oauthtoken abc"},
		Body:    []byte(`{"data":[]}`),
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusCreated || !res.Success() || res.Attempts != 1 {
		t.Fatalf("unexpected response %#v", res)
	}
	if res.Header.Get("X-Request-Id") != "req_1" || string(res.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response payload %#v", res)
	}
}

func TestRESTClient_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("expected body on every attempt, got %q", body)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, delays := newTestClient(server)
	res, err := client.Do(context.Background(), Request{Method: http.MethodPost, URL: server.URL, Body: []byte("payload")})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusOK || res.Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %#v", res)
	}
	if len(*delays) != 2 || (*delays)[0] != 100*time.Millisecond || (*delays)[1] != 200*time.Millisecond {
		t.Fatalf("expected exponential backoff, got %v", *delays)
	}
}

func TestRESTClient_StopsAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, delays := newTestClient(server)
	client.MaxRetryAfter = 500 * time.Millisecond
	res, err := client.Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("expected final response without error, got %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected three attempts ending in 429, got %d after %d calls", res.StatusCode, calls)
	}
	for _, delay := range *delays {
		if delay != 500*time.Millisecond {
			t.Fatalf("expected retry-after hint capped at 500ms, got %v", *delays)
		}
	}
}

func TestRESTClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	res, err := client.Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusBadRequest || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected single attempt for 400, got %d calls", calls)
	}
}

type failingDoer struct {
	calls int
}

func (d *failingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls++
	return nil, errors.New("connection reset by peer")
}

func TestRESTClient_NetworkErrorsAreRetriedThenReported(t *testing.T) {
	doer := &failingDoer{}
	client := NewRESTClient(doer)
	client.Sleep = func(context.Context, time.Duration) error { return nil }

	_, err := client.Do(context.Background(), Request{URL: "https://crm.example/leads"})
	if err == nil {
		t.Fatalf("expected network failure")
	}
	if doer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", doer.calls)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != ErrorTransportFailed || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected envelope %q/%d", rich.TextCode, rich.Code)
	}
	if rich.Metadata["attempts"] != 3 {
		t.Fatalf("expected attempts metadata, got %#v", rich.Metadata)
	}
}

func TestRESTClient_CancelledContextStopsRetrying(t *testing.T) {
	doer := &failingDoer{}
	client := NewRESTClient(doer)
	ctx, cancel := context.WithCancel(context.Background())
	client.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	if _, err := client.Do(ctx, Request{URL: "https://crm.example/leads"}); err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if doer.calls != 1 {
		t.Fatalf("expected no attempts after cancellation, got %d", doer.calls)
	}
}

func TestRESTClient_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	client, delays := newTestClient(server)
	client.MaxResponseBodyBytes = 4

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected envelope %q/%d", rich.Category, rich.Code)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected body limit failures not to be retried")
	}
}

func TestRESTClient_RequiresURL(t *testing.T) {
	client := NewRESTClient(nil)
	_, err := client.Do(context.Background(), Request{URL: "  "})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ErrorTransportRequest {
		t.Fatalf("expected invalid request error, got %v", err)
	}

	var nilClient *RESTClient
	if _, err := nilClient.Do(context.Background(), Request{URL: "https://x"}); err == nil {
		t.Fatalf("expected nil client error")
	}
}

func TestExponentialRetryPolicy(t *testing.T) {
	policy := ExponentialRetryPolicy{Initial: time.Second, Max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := policy.NextDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	header := http.Header{}
	header.Set("Retry-After", "7")
	if delay, ok := retryAfter(header, now); !ok || delay != 7*time.Second {
		t.Fatalf("expected 7s, got %s (%v)", delay, ok)
	}
	header.Set("Retry-After", now.Add(3*time.Second).Format(http.TimeFormat))
	if delay, ok := retryAfter(header, now); !ok || delay != 3*time.Second {
		t.Fatalf("expected 3s from http date, got %s (%v)", delay, ok)
	}
	header.Set("Retry-After", "soon")
	if _, ok := retryAfter(header, now); ok {
		t.Fatalf("expected unparseable hint to be ignored")
	}
	if !Retryable(http.StatusBadGateway) || Retryable(http.StatusConflict) || !Retryable(http.StatusTooManyRequests) {
		t.Fatalf("unexpected retryable classification")
	}
}
