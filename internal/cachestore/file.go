package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const partitionFileSuffix = ".partition.json"

// FileStore keeps one JSON snapshot file per partition under a directory.
// Mutations rewrite the partition file through a temp file and rename, so a
// crash mid-write leaves the previous snapshot intact.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	loaded map[string]map[string]Entry
	closed bool
}

type partitionSnapshot struct {
	Entries map[string]Entry `json:"entries"`
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, loaded: map[string]map[string]Entry{}}, nil
}

func (s *FileStore) Get(_ context.Context, partition, key string) (Entry, error) {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return Entry{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	entries, err := s.partitionLocked(partition)
	if err != nil {
		return Entry{}, err
	}
	if entries == nil {
		return Entry{}, ErrNotFound
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *FileStore) Put(_ context.Context, partition, key string, entry Entry) error {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries, err := s.partitionLocked(partition)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = map[string]Entry{}
		s.loaded[partition] = entries
	}
	previous, hadPrevious := entries[key]
	entries[key] = entry
	if err := s.saveLocked(partition, entries); err != nil {
		if hadPrevious {
			entries[key] = previous
		} else {
			delete(entries, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, partition, key string) error {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries, err := s.partitionLocked(partition)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}
	previous, hadPrevious := entries[key]
	if !hadPrevious {
		return nil
	}
	delete(entries, key)
	if err := s.saveLocked(partition, entries); err != nil {
		entries[key] = previous
		return err
	}
	return nil
}

func (s *FileStore) EnsurePartition(_ context.Context, partition string) error {
	if strings.TrimSpace(partition) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries, err := s.partitionLocked(partition)
	if err != nil {
		return err
	}
	if entries != nil {
		return nil
	}
	s.loaded[partition] = map[string]Entry{}
	return s.saveLocked(partition, s.loaded[partition])
}

func (s *FileStore) DeletePartition(_ context.Context, partition string) error {
	if strings.TrimSpace(partition) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.loaded, partition)
	if err := os.Remove(s.partitionPath(partition)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) ListPartitions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), partitionFileSuffix) {
			continue
		}
		encoded := strings.TrimSuffix(file.Name(), partitionFileSuffix)
		name, err := url.PathUnescape(encoded)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Keys(_ context.Context, partition string) ([]string, error) {
	if strings.TrimSpace(partition) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries, err := s.partitionLocked(partition)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.loaded = map[string]map[string]Entry{}
	return nil
}

func (s *FileStore) partitionPath(partition string) string {
	return filepath.Join(s.dir, url.PathEscape(partition)+partitionFileSuffix)
}

func (s *FileStore) partitionLocked(partition string) (map[string]Entry, error) {
	if entries, ok := s.loaded[partition]; ok {
		return entries, nil
	}
	data, err := os.ReadFile(s.partitionPath(partition))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot partitionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	entries := snapshot.Entries
	if entries == nil {
		entries = map[string]Entry{}
	}
	s.loaded[partition] = entries
	return entries, nil
}

func (s *FileStore) saveLocked(partition string, entries map[string]Entry) error {
	data, err := json.Marshal(partitionSnapshot{Entries: entries})
	if err != nil {
		return err
	}
	path := s.partitionPath(partition)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
