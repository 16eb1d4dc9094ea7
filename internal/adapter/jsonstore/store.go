// Package jsonstore implements the JOIN request store as a single JSON
// document on local disk.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/Strob0t/iotbridge/internal/atomicfile"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/join"
	"github.com/Strob0t/iotbridge/internal/port/joinstore"
)

// Store keeps every JOIN request in one JSON object keyed by tenant ID.
// All access goes through mu; writes are atomic renames. Only one process
// may write the file.
type Store struct {
	mu   sync.Mutex
	path string
}

var _ joinstore.Store = (*Store)(nil)

// New returns a store backed by the document at path. The file is created on first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns all records. A missing document is an empty mapping.
func (s *Store) Load(_ context.Context) (map[string]*join.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save replaces the document with all.
func (s *Store) Save(_ context.Context, all map[string]*join.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(all)
}

// Get returns the record for tenantID.
func (s *Store) Get(ctx context.Context, tenantID string) (*join.Request, error) {
	all, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := all[tenantID]
	if !ok {
		return nil, join.NotFound(tenantID)
	}
	return r, nil
}

// Update runs fn and the write under one lock acquisition.
func (s *Store) Update(_ context.Context, tenantID string, fn joinstore.UpdateFunc) (*join.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return nil, err
	}
	next, err := fn(all[tenantID])
	if err != nil {
		return nil, err
	}
	all[tenantID] = next
	if err := s.write(all); err != nil {
		return nil, err
	}
	return next, nil
}

// read must be called with s.mu held.
func (s *Store) read() (map[string]*join.Request, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*join.Request{}, nil
		}
		return nil, fmt.Errorf("read join store: %w", err)
	}

	all := map[string]*join.Request{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStorageCorrupt, s.path, err)
	}
	for id, r := range all {
		if r == nil {
			return nil, fmt.Errorf("%w: %s: null record for %q", domain.ErrStorageCorrupt, s.path, id)
		}
	}
	return all, nil
}

// write must be called with s.mu held.
func (s *Store) write(all map[string]*join.Request) error {
	if err := atomicfile.WriteJSON(s.path, all, 0o600); err != nil {
		return fmt.Errorf("write join store: %w", err)
	}
	return nil
}
