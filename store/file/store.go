// Package filestore keeps the retry queue in a single JSON array on disk.
// Every mutation rewrites the whole file through a temp file and rename.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goliatone/go-leadrelay/core"
)

type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("filestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create directory: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Append(ctx context.Context, lead core.QueuedLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read(ctx)
	if err != nil {
		return err
	}
	return s.write(append(items, lead))
}

// List returns the queue in file order. A missing file is an empty queue.
func (s *Store) List(ctx context.Context) ([]core.QueuedLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

func (s *Store) Settle(ctx context.Context, settlement core.QueueSettlement) error {
	if settlement.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read(ctx)
	if err != nil {
		return err
	}
	delivered := make(map[string]struct{}, len(settlement.Delivered))
	for _, id := range settlement.Delivered {
		delivered[id] = struct{}{}
	}
	failed := make(map[string]core.QueuedLead, len(settlement.Failed))
	for _, item := range settlement.Failed {
		failed[item.ID] = item
	}

	next := make([]core.QueuedLead, 0, len(items))
	for _, item := range items {
		if _, ok := delivered[item.ID]; ok {
			continue
		}
		if updated, ok := failed[item.ID]; ok {
			item = updated
		}
		next = append(next, item)
	}
	return s.write(next)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	next := make([]core.QueuedLead, 0, len(items))
	removed := false
	for _, item := range items {
		if item.ID == id {
			removed = true
			continue
		}
		next = append(next, item)
	}
	if !removed {
		return false, nil
	}
	return true, s.write(next)
}

func (s *Store) read(ctx context.Context) ([]core.QueuedLead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []core.QueuedLead{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []core.QueuedLead{}, nil
	}
	items := []core.QueuedLead{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}
	return items, nil
}

func (s *Store) write(items []core.QueuedLead) error {
	if items == nil {
		items = []core.QueuedLead{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("filestore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: replace %s: %w", s.path, err)
	}
	if err := syncDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("filestore: sync directory: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

var _ core.QueueStore = (*Store)(nil)
