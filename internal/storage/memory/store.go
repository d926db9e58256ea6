// Package memory implements storage interfaces in process memory
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sirosfoundation/go-dfe/internal/storage"
)

// Store implements storage.Store with maps
type Store struct {
	mu        sync.RWMutex
	cursors   map[string]storage.Cursor
	documents map[string]map[uint64]storage.Document
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		cursors:   make(map[string]storage.Cursor),
		documents: make(map[string]map[uint64]storage.Document),
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error { return nil }

// Cursor operations

func (s *Store) GetCursor(ctx context.Context, taxID string) (*storage.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[taxID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) SaveCursor(ctx context.Context, cursor *storage.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cursor
	if prev, ok := s.cursors[c.TaxID]; ok && prev.LastNSU > c.LastNSU {
		c.LastNSU = prev.LastNSU
	}
	s.cursors[c.TaxID] = c
	return nil
}

func (s *Store) ListCursors(ctx context.Context) ([]*storage.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Cursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaxID < out[j].TaxID })
	return out, nil
}

// Document operations

func (s *Store) SaveDocuments(ctx context.Context, docs []*storage.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, d := range docs {
		byNSU, ok := s.documents[d.TaxID]
		if !ok {
			byNSU = make(map[uint64]storage.Document)
			s.documents[d.TaxID] = byNSU
		}
		if _, exists := byNSU[d.NSU]; !exists {
			created++
		}
		byNSU[d.NSU] = *d
	}
	return created, nil
}

func (s *Store) GetDocument(ctx context.Context, taxID string, nsu uint64) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[taxID][nsu]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) ListDocuments(ctx context.Context, taxID string, filter *storage.DocumentFilter) ([]*storage.Document, error) {
	matched := s.matching(taxID, filter)

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(matched) {
				return []*storage.Document{}, nil
			}
			matched = matched[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(matched) {
			matched = matched[:filter.Limit]
		}
	}
	return matched, nil
}

func (s *Store) CountDocuments(ctx context.Context, taxID string, filter *storage.DocumentFilter) (int64, error) {
	return int64(len(s.matching(taxID, filter))), nil
}

func (s *Store) matching(taxID string, filter *storage.DocumentFilter) []*storage.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*storage.Document{}
	for _, d := range s.documents[taxID] {
		if filter.Matches(&d) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NSU < out[j].NSU })
	return out
}
