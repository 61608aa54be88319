package cachestore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testBackends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testBackends(t) {
		entry := Entry{
			Status:   200,
			Header:   map[string][]string{"Content-Type": {"application/json"}},
			Body:     []byte(`{"doc":"food-safety"}`),
			StoredAt: time.Now().UTC().Truncate(time.Second),
		}
		if err := store.Put(ctx, "docs-v3", "GET /api/documents/food-safety", entry); err != nil {
			t.Fatalf("%s: put failed: %v", name, err)
		}
		got, err := store.Get(ctx, "docs-v3", "GET /api/documents/food-safety")
		if err != nil {
			t.Fatalf("%s: get failed: %v", name, err)
		}
		if !bytes.Equal(got.Body, entry.Body) {
			t.Fatalf("%s: body mismatch: got %q want %q", name, got.Body, entry.Body)
		}
		if got.Status != 200 {
			t.Fatalf("%s: status mismatch: got %d", name, got.Status)
		}
		if got.HeaderCopy().Get("Content-Type") != "application/json" {
			t.Fatalf("%s: header lost", name)
		}
	}
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	ctx := context.Background()
	for name, store := range testBackends(t) {
		first := Entry{Status: 200, Body: []byte("old"), StoredAt: time.Now().UTC()}
		second := Entry{Status: 200, Body: []byte("new"), StoredAt: time.Now().UTC()}
		if err := store.Put(ctx, "docs-v3", "k", first); err != nil {
			t.Fatalf("%s: first put failed: %v", name, err)
		}
		if err := store.Put(ctx, "docs-v3", "k", second); err != nil {
			t.Fatalf("%s: second put failed: %v", name, err)
		}
		keys, err := store.Keys(ctx, "docs-v3")
		if err != nil {
			t.Fatalf("%s: keys failed: %v", name, err)
		}
		if len(keys) != 1 {
			t.Fatalf("%s: expected exactly one entry, got %d", name, len(keys))
		}
		got, err := store.Get(ctx, "docs-v3", "k")
		if err != nil {
			t.Fatalf("%s: get failed: %v", name, err)
		}
		if string(got.Body) != "new" {
			t.Fatalf("%s: expected overwritten body, got %q", name, got.Body)
		}
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range testBackends(t) {
		if _, err := store.Get(ctx, "docs-v3", "absent"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestDeletePartitionRemovesEntries(t *testing.T) {
	ctx := context.Background()
	for name, store := range testBackends(t) {
		if err := store.Put(ctx, "media-v2", "a", Entry{Body: []byte("x"), StoredAt: time.Now().UTC()}); err != nil {
			t.Fatalf("%s: put failed: %v", name, err)
		}
		if err := store.DeletePartition(ctx, "media-v2"); err != nil {
			t.Fatalf("%s: delete partition failed: %v", name, err)
		}
		if _, err := store.Get(ctx, "media-v2", "a"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound after partition delete, got %v", name, err)
		}
		names, err := store.ListPartitions(ctx)
		if err != nil {
			t.Fatalf("%s: list failed: %v", name, err)
		}
		for _, partition := range names {
			if partition == "media-v2" {
				t.Fatalf("%s: partition still listed after delete", name)
			}
		}
	}
}

func TestEnsurePartitionIsListed(t *testing.T) {
	ctx := context.Background()
	for name, store := range testBackends(t) {
		if err := store.EnsurePartition(ctx, "fonts-v3"); err != nil {
			t.Fatalf("%s: ensure failed: %v", name, err)
		}
		names, err := store.ListPartitions(ctx)
		if err != nil {
			t.Fatalf("%s: list failed: %v", name, err)
		}
		found := false
		for _, partition := range names {
			if partition == "fonts-v3" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s: empty partition not listed, got %v", name, names)
		}
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	entry := Entry{Status: 200, Body: []byte("persisted"), StoredAt: time.Now().UTC()}
	if err := store.Put(ctx, "critical-docs-v3", "GET /api/documents/first-aid", entry); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.Get(ctx, "critical-docs-v3", "GET /api/documents/first-aid")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(got.Body) != "persisted" {
		t.Fatalf("expected persisted body, got %q", got.Body)
	}
}

func TestInvalidInputRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Put(ctx, "", "k", Entry{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty partition, got %v", err)
	}
	if _, err := store.Get(ctx, "p", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty key, got %v", err)
	}
}
