// Package uploads holds user-uploaded file payloads in memory until an
// extraction consumes them. Entries are keyed by opaque ids and removed
// once an extraction succeeds or fails terminally.
package uploads

import (
	"sync"

	"github.com/google/uuid"

	"github.com/foliopilot/foliopilot/internal/errs"
)

// MaxFileSize caps a single upload payload.
const MaxFileSize = 5 << 20

// File is one stored upload.
type File struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}

// Store is an in-memory upload registry.
type Store struct {
	mu    sync.Mutex
	files map[string]*File
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{files: make(map[string]*File)}
}

// Put registers a payload and returns its id.
func (s *Store) Put(name, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.New(errs.Validation, "empty file")
	}
	if len(data) > MaxFileSize {
		return "", errs.New(errs.Validation, "file exceeds %d bytes", MaxFileSize)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.files[id] = &File{ID: id, Name: name, ContentType: contentType, Data: data}
	s.mu.Unlock()
	return id, nil
}

// Get returns the file for an id.
func (s *Store) Get(id string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	return f, ok
}

// Remove deletes an id; missing ids are a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.files, id)
	s.mu.Unlock()
}

// Len reports how many uploads are pending.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
