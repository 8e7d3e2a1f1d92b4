// Package memory implements an in-memory slot Store for tests and ephemeral runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"memorypin/internal/blob/core"
)

type slotEntry struct {
	info core.Info
	data []byte
}

// Store implements core.Store backed by process memory.
type Store struct {
	mu    sync.RWMutex
	objs  map[string]slotEntry
	puts  int
	fails failures
}

type failures struct {
	put    error
	get    error
	delete error
}

// New returns an in-memory slot store.
func New() *Store { return &Store{objs: make(map[string]slotEntry)} }

// Driver returns the slot driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// FailPut makes every subsequent Put return err (nil clears). Simulates a
// full quota.
func (s *Store) FailPut(err error) {
	s.mu.Lock()
	s.fails.put = err
	s.mu.Unlock()
}

// FailGet makes every subsequent Get return err (nil clears).
func (s *Store) FailGet(err error) {
	s.mu.Lock()
	s.fails.get = err
	s.mu.Unlock()
}

// FailDelete makes every subsequent Delete return err (nil clears).
func (s *Store) FailDelete(err error) {
	s.mu.Lock()
	s.fails.delete = err
	s.mu.Unlock()
}

// Puts reports how many Put calls succeeded.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Bytes returns a copy of the payload at key, or nil.
func (s *Store) Bytes(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objs[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

// Put stores the payload at key, replacing any previous one.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails.put != nil {
		return core.Info{}, s.fails.put
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	now := time.Now().UTC()
	info := core.Info{Key: key, Size: int64(len(b)), ContentType: opts.ContentType, Metadata: core.CloneMetadata(opts.Metadata), LastModified: now}
	s.objs[key] = slotEntry{info: info, data: b}
	s.puts++
	return info, nil
}

// Get returns slot metadata and a read closer over a copy of its content.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fails.get != nil {
		return core.Info{}, nil, s.fails.get
	}
	obj, ok := s.objs[key]
	if !ok {
		return core.Info{}, nil, fmt.Errorf("slot %s: %w", key, core.ErrNotExist)
	}
	dataCopy := append([]byte(nil), obj.data...)
	infoCopy := obj.info
	infoCopy.Metadata = core.CloneMetadata(infoCopy.Metadata)
	return infoCopy, io.NopCloser(bytes.NewReader(dataCopy)), nil
}

// Head returns slot metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, fmt.Errorf("slot %s: %w", key, core.ErrNotExist)
	}
	infoCopy := obj.info
	infoCopy.Metadata = core.CloneMetadata(infoCopy.Metadata)
	return infoCopy, nil
}

// Delete removes the slot returning true if it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails.delete != nil {
		return false, s.fails.delete
	}
	_, ok := s.objs[key]
	if ok {
		delete(s.objs, key)
	}
	return ok, nil
}
