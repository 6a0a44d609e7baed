package store

import (
	"context"
	"sync"
	"time"

	"github.com/ivlev/stopcast/internal/scenario"
)

// Memory keeps records in process; used by tests and single-node setups.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*scenario.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*scenario.Record)}
}

func (m *Memory) Get(ctx context.Context, id string) (*scenario.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (m *Memory) List(ctx context.Context) ([]*scenario.Record, error) {
	m.mu.RLock()
	out := make([]*scenario.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, clone(rec))
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (m *Memory) Save(ctx context.Context, rec *scenario.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Scenario.ID] = clone(rec)
	return nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, status scenario.Status, videoPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.VideoStatus = status
	rec.VideoPath = videoPath
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }
