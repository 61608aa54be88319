package syncqueue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrDrainInProgress = errors.New("drain in progress")
	ErrClosed          = errors.New("queue closed")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "inflight"
	StatusFailed   Status = "failed"
	StatusDone     Status = "done"
)

// Task is a mutation captured while the backend was unreachable. Target is
// the logical record the mutation applies to; replay order is preserved per
// target, so the last enqueued task for a record wins.
type Task struct {
	ID            string            `json:"id"`
	Target        string            `json:"target"`
	Method        string            `json:"method"`
	Endpoint      string            `json:"endpoint"`
	Header        map[string]string `json:"header,omitempty"`
	Payload       []byte            `json:"payload,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	AttemptCount  int               `json:"attemptCount"`
	NextAttemptAt *time.Time        `json:"nextAttemptAt,omitempty"`
	LastError     *string           `json:"lastError,omitempty"`
	Status        Status            `json:"status"`
}

type queueState struct {
	TaskCounter uint64 `json:"taskCounter"`
	Tasks       []Task `json:"tasks"`
}

// TaskStore persists the queue snapshot across process restarts.
type TaskStore interface {
	Load() (*queueState, error)
	Save(state *queueState) error
}

type taskStoreCloser interface {
	Close() error
}

type InMemoryTaskStore struct {
	mu       sync.Mutex
	snapshot *queueState
}

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{}
}

func (s *InMemoryTaskStore) Load() (*queueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, nil
	}
	return cloneState(s.snapshot)
}

func (s *InMemoryTaskStore) Save(state *queueState) error {
	if state == nil {
		return nil
	}
	clone, err := cloneState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = clone
	return nil
}

func cloneState(state *queueState) (*queueState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone queueState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

type JSONFileTaskStore struct {
	Path string
}

func NewJSONFileTaskStore(path string) (*JSONFileTaskStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &JSONFileTaskStore{Path: path}, nil
}

func (s *JSONFileTaskStore) Load() (*queueState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot queueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *JSONFileTaskStore) Save(state *queueState) error {
	if state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
