package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// CheckAccess always succeeds.
func (s *MemoryStore) CheckAccess(context.Context) error {
	return nil
}

// Store decodes resp as a JSON document for taskID and keeps it.
func (s *MemoryStore) Store(ctx context.Context, taskID string, resp *endpoint.Response) error {
	if resp == nil {
		return fmt.Errorf("response cannot be nil")
	}
	doc, err := NewDocument(taskID, resp.Content)
	if err != nil {
		StoreErrors.WithLabelValues("malformed").Inc()
		return err
	}
	return s.Put(ctx, doc)
}

// Put keeps a copy of doc.
func (s *MemoryStore) Put(_ context.Context, doc Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("document has no %s", IDField)
	}

	// Round-trip through JSON so callers cannot mutate the stored copy.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	var stored Document
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}

	s.mu.Lock()
	s.docs[id] = stored
	s.mu.Unlock()

	StoreWrites.WithLabelValues("memory").Inc()
	StoreBytes.WithLabelValues("memory").Add(float64(len(data)))
	return nil
}

// Get returns the document for id or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Delete removes the document for id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return nil
}

// CompletedIDs returns the stored uuids.
func (s *MemoryStore) CompletedIDs(context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	done := make(map[string]struct{}, len(s.docs))
	for id := range s.docs {
		done[id] = struct{}{}
	}
	return done, nil
}

// Count returns the number of stored documents.
func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}
