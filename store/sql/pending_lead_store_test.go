package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-leadrelay/core"
	sqlstore "github.com/goliatone/go-leadrelay/store/sql"
)

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:leadrelay-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	client, err := sqlstore.Open(context.Background(), core.QueueConfig{
		Driver: core.QueueDriverSQLite,
		DSN:    dsn,
	})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return client, func() {
		_ = client.Close()
	}
}

func queued(id string, email string, at time.Time) core.QueuedLead {
	return core.QueuedLead{
		ID:          id,
		Fingerprint: "fp-" + id,
		Lead: core.CanonicalLead{
			FirstName:     "Jane",
			LastName:      "Doe",
			Email:         email,
			SourceEventID: "evt-" + id,
			Enrichment:    &core.Enrichment{PropertyType: "villa"},
		},
		EnqueuedAt: at,
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"pending_leads",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "pending_leads" {
		t.Fatalf("expected pending_leads table, got %q", tableName)
	}
}

func TestPendingLeadStore_AppendListKeepsOrder(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewPendingLeadStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"q-3", "q-1", "q-2"} {
		if err := store.Append(ctx, queued(id, id+"@example.com", base)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[0].ID != "q-3" || items[1].ID != "q-1" || items[2].ID != "q-2" {
		t.Fatalf("expected append order, got %#v", items)
	}
	first := items[0]
	if first.Lead.Email != "q-3@example.com" || first.Lead.Enrichment == nil || first.Lead.Enrichment.PropertyType != "villa" {
		t.Fatalf("lead payload did not round trip: %#v", first.Lead)
	}
	if !first.EnqueuedAt.Equal(base) {
		t.Fatalf("expected enqueued_at %s, got %s", base, first.EnqueuedAt)
	}
}

func TestPendingLeadStore_SettleAndDelete(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewPendingLeadStore(client.DB())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Append(ctx, queued(id, id+"@example.com", now)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	attemptedAt := now.Add(time.Minute)
	failed := queued("c", "c@example.com", now)
	failed.Attempts = 1
	failed.LastAttemptAt = &attemptedAt
	failed.LastError = "zoho: record rejected: INVALID_DATA"
	if err := store.Settle(ctx, core.QueueSettlement{Delivered: []string{"a"}, Failed: []core.QueuedLead{failed}}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != "b" || items[1].ID != "c" {
		t.Fatalf("unexpected items after settle %#v", items)
	}
	if items[1].Attempts != 1 || items[1].LastError == "" || items[1].LastAttemptAt == nil || !items[1].LastAttemptAt.Equal(attemptedAt) {
		t.Fatalf("expected failure metadata on c, got %#v", items[1])
	}

	if err := store.Append(ctx, queued("d", "d@example.com", now)); err != nil {
		t.Fatalf("append after settle: %v", err)
	}
	removed, err := store.Delete(ctx, "b")
	if err != nil || !removed {
		t.Fatalf("expected delete to remove b, removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, "missing")
	if err != nil || removed {
		t.Fatalf("expected delete of unknown id to report false, removed=%v err=%v", removed, err)
	}
	items, _ = store.List(ctx)
	if len(items) != 2 || items[0].ID != "c" || items[1].ID != "d" {
		t.Fatalf("unexpected items after delete %#v", items)
	}
}

func TestPendingLeadStore_DrivesRetryQueue(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewPendingLeadStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	forwarder := &flakyForwarder{reject: map[string]bool{"bad@example.com": true}}
	queue := core.NewRetryQueue(store, forwarder)
	for _, email := range []string{"ok@example.com", "bad@example.com"} {
		if _, err := queue.Enqueue(ctx, core.CanonicalLead{FirstName: "A", LastName: "B", Email: email}, ""); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	result, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Attempted != 2 || result.Succeeded != 1 || result.Failed != 1 || result.Remaining != 1 {
		t.Fatalf("unexpected drain result %#v", result)
	}
	items, _ := store.List(ctx)
	if len(items) != 1 || items[0].Lead.Email != "bad@example.com" || items[0].Attempts != 1 {
		t.Fatalf("unexpected queue after drain %#v", items)
	}
}

func TestOpen_RejectsUnsupportedDriver(t *testing.T) {
	if _, err := sqlstore.Open(context.Background(), core.QueueConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := sqlstore.Open(context.Background(), core.QueueConfig{Driver: core.QueueDriverSQLite}); err == nil {
		t.Fatalf("expected missing dsn error")
	}
	if _, err := sqlstore.NewPendingLeadStoreFromPersistence(nil); err == nil {
		t.Fatalf("expected nil client error")
	}
}

type flakyForwarder struct {
	reject map[string]bool
}

func (f *flakyForwarder) Forward(_ context.Context, lead core.CanonicalLead) (core.DeliveryResult, error) {
	if f.reject[lead.Email] {
		return core.DeliveryResult{}, core.NewDeliveryError("crm rejected lead", nil, nil)
	}
	return core.DeliveryResult{CRMRecordID: "rec-" + lead.Email}, nil
}
