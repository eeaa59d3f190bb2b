package job

import (
	"context"
	"sync"
)

// Store is the durable key-value persistence boundary, keyed by job id.
// Writes are write-through: Save must not return until the record is durable.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, jobID string) (*Record, error)
	Delete(ctx context.Context, jobID string) error
}

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]*Record),
	}
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(s.recs, jobID)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
