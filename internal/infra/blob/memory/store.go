// Package memory implements an in-memory blob Store for tests and ephemeral sessions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"praxis/internal/blob/core"
)

type blobEntry struct {
	info core.Info
	data []byte
}

// Store implements core.Store backed by process memory.
type Store struct {
	mu   sync.RWMutex
	objs    map[string]blobEntry
	failPut error
}

// New returns an in-memory blob store.
func New() *Store { return &Store{objs: make(map[string]blobEntry)} }

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// FailPuts makes subsequent Put calls fail with err; nil restores normal behavior.
func (s *Store) FailPuts(err error) {
	s.mu.Lock()
	s.failPut = err
	s.mu.Unlock()
}

// Put stores data under key, replacing any previous value.
func (s *Store) Put(_ context.Context, key string, data []byte, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return core.Info{}, s.failPut
	}
	now := time.Now().UTC()
	info := core.Info{Key: key, Size: int64(len(data)), ContentType: opts.ContentType, Metadata: core.CloneMetadata(opts.Metadata), LastModified: now}
	s.objs[key] = blobEntry{info: info, data: append([]byte(nil), data...)}
	return info, nil
}

// Get returns a copy of the blob and its metadata.
func (s *Store) Get(_ context.Context, key string) ([]byte, core.Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	info := obj.info
	info.Metadata = core.CloneMetadata(info.Metadata)
	return append([]byte(nil), obj.data...), info, nil
}

// Head returns blob metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	info := obj.info
	info.Metadata = core.CloneMetadata(info.Metadata)
	return info, nil
}

// Delete removes the blob returning true if it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	if ok {
		delete(s.objs, key)
	}
	return ok, nil
}

// List returns all blobs matching prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Info, 0, len(s.objs))
	for k, v := range s.objs {
		if strings.HasPrefix(k, prefix) {
			inf := v.info
			inf.Metadata = core.CloneMetadata(inf.Metadata)
			out = append(out, inf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear drops every blob.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	s.objs = make(map[string]blobEntry)
	s.mu.Unlock()
	return nil
}

// PresignURL returns unsupported for memory driver.
func (s *Store) PresignURL(_ context.Context, _ string, _ core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}
