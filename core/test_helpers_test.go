package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const testWebhookSecret = "whsec_test"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Webhook.Secret = testWebhookSecret
	cfg.CRM.ClientID = "client_1"
	cfg.CRM.ClientSecret = "client_secret_1"
	cfg.CRM.RefreshToken = "refresh_1"
	return cfg
}

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(context.Context, InboundRequest) error {
	v.calls++
	return v.err
}

type stubForwarder struct {
	mu       sync.Mutex
	failures map[string]error
	fail     error
	calls    []CanonicalLead
	nextID   int
}

func (f *stubForwarder) Forward(_ context.Context, lead CanonicalLead) (DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, lead)
	if err, ok := f.failures[lead.SourceEventID]; ok && err != nil {
		return DeliveryResult{}, err
	}
	if f.fail != nil {
		return DeliveryResult{}, f.fail
	}
	f.nextID++
	return DeliveryResult{CRMRecordID: fmt.Sprintf("zoho_%d", f.nextID)}, nil
}

func (f *stubForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stubEnricher struct {
	enrichment Enrichment
	err        error
	calls      int
}

func (e *stubEnricher) FetchListing(_ context.Context, listingID string) (Enrichment, error) {
	e.calls++
	if e.err != nil {
		return Enrichment{}, e.err
	}
	return e.enrichment, nil
}

// memoryQueueStore keeps entries in a slice and can be told to fail.
type memoryQueueStore struct {
	mu        sync.Mutex
	items     []QueuedLead
	appendErr error
	listErr   error
	settleErr error
}

func (s *memoryQueueStore) Append(_ context.Context, lead QueuedLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.items = append(s.items, lead)
	return nil
}

func (s *memoryQueueStore) List(context.Context) ([]QueuedLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]QueuedLead(nil), s.items...), nil
}

func (s *memoryQueueStore) Settle(_ context.Context, settlement QueueSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleErr != nil {
		return s.settleErr
	}
	delivered := map[string]bool{}
	for _, id := range settlement.Delivered {
		delivered[id] = true
	}
	failed := map[string]QueuedLead{}
	for _, item := range settlement.Failed {
		failed[item.ID] = item
	}
	next := make([]QueuedLead, 0, len(s.items))
	for _, item := range s.items {
		if delivered[item.ID] {
			continue
		}
		if updated, ok := failed[item.ID]; ok {
			item = updated
		}
		next = append(next, item)
	}
	s.items = next
	return nil
}

func (s *memoryQueueStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu       sync.Mutex
	counters []capturedCounter
	observed int
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed++
}

func (m *captureMetricsRecorder) hasCounter(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.counters {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type harness struct {
	service   *Service
	verifier  *stubVerifier
	forwarder *stubForwarder
	store     *memoryQueueStore
	ledger    *MemoryDedupLedger
	metrics   *captureMetricsRecorder
	logger    *captureLogger
}

func newHarness(opts ...Option) (*harness, error) {
	h := &harness{
		verifier:  &stubVerifier{},
		forwarder: &stubForwarder{},
		store:     &memoryQueueStore{},
		ledger:    NewMemoryDedupLedger(10),
		metrics:   &captureMetricsRecorder{},
		logger:    newCaptureLogger(),
	}
	base := []Option{
		WithSignatureVerifier(h.verifier),
		WithForwarder(h.forwarder),
		WithQueueStore(h.store),
		WithDedupLedger(h.ledger),
		WithMetricsRecorder(h.metrics),
		WithLogger(h.logger),
		WithLoggerProvider(stubLoggerProvider{logger: h.logger}),
		WithClock(func() time.Time {
			return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		}),
	}
	svc, err := NewService(testConfig(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	h.service = svc
	return h, nil
}

var errCRMDown = errors.New("crm unavailable")

const nestedLeadBody = `{
  "id": "evt_100",
  "payload": {
    "sender": {
      "name": "Jane Q Doe",
      "contacts": [
        {"type": "email", "value": "Jane@Example.com"},
        {"type": "phone", "value": "+971 50 123 4567"},
        {"type": "email", "value": "second@example.com"}
      ]
    },
    "listing": {"id": "L-77", "reference": "REF-77"},
    "channel": "whatsapp"
  }
}`

const flatLeadBody = `{
  "id": "evt_200",
  "sender": {
    "name": "Omar",
    "contacts": [
      {"type": "mobile", "value": "+971555000111"}
    ]
  },
  "listing": {"id": 9001, "reference": "REF-9001"},
  "channel": "email"
}`
