package core

import (
	"strings"
	"sync"
)

const DefaultDedupCapacity = 1000

// MemoryDedupLedger is a bounded set of fingerprints evicted in insertion
// order. Recording a present fingerprint does not refresh its position.
type MemoryDedupLedger struct {
	mu       sync.Mutex
	capacity int
	members  map[string]struct{}
	ring     []string
	next     int
	size     int
}

func NewMemoryDedupLedger(capacity int) *MemoryDedupLedger {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &MemoryDedupLedger{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
		ring:     make([]string, capacity),
	}
}

func (l *MemoryDedupLedger) Seen(fingerprint string) bool {
	if l == nil {
		return false
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.members[fingerprint]
	return ok
}

func (l *MemoryDedupLedger) Record(fingerprint string) {
	if l == nil {
		return
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[fingerprint]; ok {
		return
	}
	// once full, next points at the oldest slot
	if l.size == l.capacity {
		delete(l.members, l.ring[l.next])
	} else {
		l.size++
	}
	l.ring[l.next] = fingerprint
	l.members[fingerprint] = struct{}{}
	l.next = (l.next + 1) % l.capacity
}

func (l *MemoryDedupLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *MemoryDedupLedger) Capacity() int {
	if l == nil {
		return 0
	}
	return l.capacity
}

