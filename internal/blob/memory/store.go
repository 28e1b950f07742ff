// Package memory keeps archived blobs in process for runs without object
// storage.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Store implements domain.BlobWriter and domain.BlobReader.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores a copy of data at path, replacing any previous object.
func (s *Store) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("memory blob: put %s: %w", path, err)
	}
	s.mu.Lock()
	s.objects[path] = object{data: b, contentType: contentType, modified: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}

// Get returns the object at path or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory blob: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// List returns every object under prefix, sorted by path.
func (s *Store) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.BlobInfo
	for p, obj := range s.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, domain.BlobInfo{
			Path:         p,
			Size:         int64(len(obj.data)),
			ContentType:  obj.contentType,
			LastModified: obj.modified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Exists reports whether path holds an object.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

var (
	_ domain.BlobWriter = (*Store)(nil)
	_ domain.BlobReader = (*Store)(nil)
)
