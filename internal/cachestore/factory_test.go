package cachestore

import (
	"net/url"
	"path/filepath"
	"testing"
)

func TestBuildStoreFromDSN(t *testing.T) {
	store, err := BuildStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory dsn failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	fileStore, err := BuildStoreFromDSN("file://" + filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("file dsn failed: %v", err)
	}
	if _, ok := fileStore.(*FileStore); !ok {
		t.Fatalf("expected file store, got %T", fileStore)
	}

	if _, err := BuildStoreFromDSN("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestDSNPathKeepsRelativeTargets(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"file://.opscache/cache", ".opscache/cache"},
		{"file:.opscache/cache", ".opscache/cache"},
		{"file:///var/lib/opscache/cache", "/var/lib/opscache/cache"},
		{".opscache/cache", ".opscache/cache"},
	}
	for _, tc := range cases {
		parsed, err := url.Parse(tc.dsn)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.dsn, err)
		}
		got, err := dsnPath(parsed, tc.dsn)
		if err != nil {
			t.Fatalf("%s: dsnPath failed: %v", tc.dsn, err)
		}
		if got != tc.want {
			t.Fatalf("%s: path resolved to %q, want %q", tc.dsn, got, tc.want)
		}
	}
}

func TestEmptyDSNDefaultsToMemory(t *testing.T) {
	store, err := BuildStoreFromDSN("")
	if err != nil {
		t.Fatalf("empty dsn failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}
