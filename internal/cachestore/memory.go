package cachestore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Entry
	closed     bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]map[string]Entry{}}
}

func (s *MemoryStore) Get(_ context.Context, partition, key string) (Entry, error) {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return Entry{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	entries, ok := s.partitions[partition]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStore) Put(_ context.Context, partition, key string, entry Entry) error {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries, ok := s.partitions[partition]
	if !ok {
		entries = map[string]Entry{}
		s.partitions[partition] = entries
	}
	entries[key] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, partition, key string) error {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if entries, ok := s.partitions[partition]; ok {
		delete(entries, key)
	}
	return nil
}

func (s *MemoryStore) EnsurePartition(_ context.Context, partition string) error {
	if strings.TrimSpace(partition) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.partitions[partition]; !ok {
		s.partitions[partition] = map[string]Entry{}
	}
	return nil
}

func (s *MemoryStore) DeletePartition(_ context.Context, partition string) error {
	if strings.TrimSpace(partition) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.partitions, partition)
	return nil
}

func (s *MemoryStore) ListPartitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Keys(_ context.Context, partition string) ([]string, error) {
	if strings.TrimSpace(partition) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries, ok := s.partitions[partition]
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
