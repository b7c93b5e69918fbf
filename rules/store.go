package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// UnknownArtifacts marks a record written before artifact counts were kept.
const UnknownArtifacts = -1

// Record is a stored business rule: the serialized definition, whether its
// artifacts are deployed and how many artifacts were derived for it.
type Record struct {
	ID        string
	Data      []byte
	Deployed  bool
	Artifacts int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefinitionStore manages business rule persistence
type DefinitionStore interface {
	// RetrieveAll returns every record, oldest first
	RetrieveAll(ctx context.Context) ([]*Record, error)

	// Get a record by ID; ErrDefinitionNotFound if absent
	Get(ctx context.Context, id string) (*Record, error)

	// Insert a new record; ErrDefinitionExists on a duplicate ID.
	// Sets CreatedAt and UpdatedAt.
	Insert(ctx context.Context, rec *Record) error

	// Update the data, deployment flag and artifact count of an existing record.
	// Preserves CreatedAt, sets UpdatedAt.
	Update(ctx context.Context, rec *Record) error

	// Delete a record; ErrDefinitionNotFound if absent
	Delete(ctx context.Context, id string) error

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// InMemoryStore implements DefinitionStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewInMemoryStore creates a new in-memory definition store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *InMemoryStore) RetrieveAll(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDefinitionExists, rec.ID)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, rec.ID)
	}

	// Preserve original CreatedAt timestamp
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}

	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) Ping(_ context.Context) error {
	return nil
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	c.Data = append([]byte(nil), rec.Data...)
	return &c
}
