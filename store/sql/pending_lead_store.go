package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/uptrace/bun"
)

// PendingLeadStore keeps the retry queue in the pending_leads table. Queue
// order is the position column, assigned at append time.
type PendingLeadStore struct {
	db   *bun.DB
	repo repository.Repository[*pendingLeadRecord]
}

func NewPendingLeadStore(db *bun.DB) (*PendingLeadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*pendingLeadRecord](db, pendingLeadHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid pending lead repository wiring: %w", err)
		}
	}
	return &PendingLeadStore{db: db, repo: repo}, nil
}

func (s *PendingLeadStore) Append(ctx context.Context, lead core.QueuedLead) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: pending lead store is not configured")
	}
	if strings.TrimSpace(lead.ID) == "" {
		return fmt.Errorf("sqlstore: pending lead id is required")
	}
	record, err := newPendingLeadRecord(lead)
	if err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var last int64
		if err := tx.NewSelect().
			Model((*pendingLeadRecord)(nil)).
			ColumnExpr("COALESCE(MAX(position), 0)").
			Scan(ctx, &last); err != nil {
			return err
		}
		record.Position = last + 1
		_, err := s.repo.CreateTx(ctx, tx, record)
		return err
	})
}

func (s *PendingLeadStore) List(ctx context.Context) ([]core.QueuedLead, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: pending lead store is not configured")
	}
	var records []pendingLeadRecord
	if err := s.db.NewSelect().
		Model(&records).
		Order("position ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]core.QueuedLead, 0, len(records))
	for _, record := range records {
		item, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Settle removes delivered entries and rewrites failed ones inside a single
// transaction. Failed entries keep their position.
func (s *PendingLeadStore) Settle(ctx context.Context, settlement core.QueueSettlement) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: pending lead store is not configured")
	}
	if settlement.Empty() {
		return nil
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(settlement.Delivered) > 0 {
			if _, err := tx.NewDelete().
				Model((*pendingLeadRecord)(nil)).
				Where("id IN (?)", bun.In(settlement.Delivered)).
				Exec(ctx); err != nil {
				return err
			}
		}
		for _, item := range settlement.Failed {
			payload, err := encodeLead(item.Lead)
			if err != nil {
				return err
			}
			var lastAttempt *time.Time
			if item.LastAttemptAt != nil {
				value := item.LastAttemptAt.UTC()
				lastAttempt = &value
			}
			if _, err := tx.NewUpdate().
				Model((*pendingLeadRecord)(nil)).
				Set("payload = ?", payload).
				Set("attempts = ?", item.Attempts).
				Set("last_attempt_at = ?", lastAttempt).
				Set("last_error = ?", strings.TrimSpace(item.LastError)).
				Set("updated_at = ?", now).
				Where("id = ?", item.ID).
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PendingLeadStore) Delete(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: pending lead store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*pendingLeadRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func newPendingLeadRecord(lead core.QueuedLead) (*pendingLeadRecord, error) {
	payload, err := encodeLead(lead.Lead)
	if err != nil {
		return nil, err
	}
	enqueuedAt := lead.EnqueuedAt.UTC()
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	record := &pendingLeadRecord{
		ID:          strings.TrimSpace(lead.ID),
		Fingerprint: strings.TrimSpace(lead.Fingerprint),
		Payload:     payload,
		Attempts:    lead.Attempts,
		LastError:   strings.TrimSpace(lead.LastError),
		EnqueuedAt:  enqueuedAt,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if lead.LastAttemptAt != nil {
		value := lead.LastAttemptAt.UTC()
		record.LastAttemptAt = &value
	}
	return record, nil
}

func (r pendingLeadRecord) toDomain() (core.QueuedLead, error) {
	lead := core.CanonicalLead{}
	if err := json.Unmarshal([]byte(r.Payload), &lead); err != nil {
		return core.QueuedLead{}, fmt.Errorf("sqlstore: decode pending lead %s: %w", r.ID, err)
	}
	item := core.QueuedLead{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Lead:        lead,
		EnqueuedAt:  r.EnqueuedAt.UTC(),
		Attempts:    r.Attempts,
		LastError:   r.LastError,
	}
	if r.LastAttemptAt != nil {
		value := r.LastAttemptAt.UTC()
		item.LastAttemptAt = &value
	}
	return item, nil
}

func encodeLead(lead core.CanonicalLead) (string, error) {
	payload, err := json.Marshal(lead)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode pending lead: %w", err)
	}
	return string(payload), nil
}
