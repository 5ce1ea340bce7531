package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fonzu/push"
)

// Memory implements in-memory storage for testing and development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by endpoint
	seq     map[string]int     // insertion order, tiebreak for equal timestamps
	next    int
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
		seq:     make(map[string]int),
	}
}

// Upsert inserts or overwrites-and-reactivates by endpoint.
func (m *Memory) Upsert(_ context.Context, endpoint string, keys push.Keys) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := m.records[endpoint]
	if !ok {
		rec = &Record{
			ID:        uuid.New().String(),
			Endpoint:  endpoint,
			CreatedAt: now,
		}
		m.records[endpoint] = rec
		m.seq[endpoint] = m.next
		m.next++
	}
	rec.Keys = keys
	rec.Active = true
	rec.UpdatedAt = now
	return copyRecord(rec), nil
}

// Deactivate marks the endpoint inactive. Unknown endpoints are a no-op.
func (m *Memory) Deactivate(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[endpoint]; ok {
		rec.Active = false
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// ListActive returns active records, most recently created first.
func (m *Memory) ListActive(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Record
	for _, rec := range m.records {
		if rec.Active {
			results = append(results, copyRecord(rec))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return m.seq[results[i].Endpoint] > m.seq[results[j].Endpoint]
	})
	return results, nil
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}

func copyRecord(r *Record) *Record {
	cp := *r
	return &cp
}
