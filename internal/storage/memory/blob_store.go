// Package memory holds in-memory registry and artifact stores for development.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	types  map[string]string
	putErr error
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// FailPuts makes every PutObject return err.
func (s *BlobStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}

	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.data[path] = append([]byte(nil), byteData...)
	s.types[path] = contentType
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns the stored bytes and content type for path.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[path], true
}

// Paths lists stored object paths in order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
