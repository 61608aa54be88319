package cachestore

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("store closed")
)

const defaultOperationTimeout = 5 * time.Second

// Entry is a stored response snapshot. Body is kept verbatim so a cache hit
// reproduces the original response byte for byte.
type Entry struct {
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header,omitempty"`
	Body     []byte              `json:"body"`
	StoredAt time.Time           `json:"storedAt"`
}

func (e Entry) HeaderCopy() http.Header {
	h := http.Header{}
	for k, vs := range e.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

// Store is a partitioned response cache. Put replaces any existing entry for
// the same (partition, key) atomically: readers observe either the old entry
// or the new one, never a torn write. All operations are bounded; a backend
// that cannot complete in time returns an error instead of hanging.
type Store interface {
	Get(ctx context.Context, partition, key string) (Entry, error)
	Put(ctx context.Context, partition, key string, entry Entry) error
	Delete(ctx context.Context, partition, key string) error
	EnsurePartition(ctx context.Context, partition string) error
	DeletePartition(ctx context.Context, partition string) error
	ListPartitions(ctx context.Context) ([]string, error)
	Keys(ctx context.Context, partition string) ([]string, error)
	Close() error
}
