package syncqueue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReplaySuccessOnAck(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotIdempotency string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPReplayClient(ReplayClientOptions{
		BaseURL: server.URL,
		TokenProvider: func(context.Context) (string, error) {
			return "token-123", nil
		},
		UserAgent: "opscache-agent",
	})
	err := client.Replay(context.Background(), Task{
		Method:   http.MethodPut,
		Endpoint: "/api/progress/42",
		Header:   map[string]string{"Idempotency-Key": "abc"},
		Payload:  []byte(`{"step":3}`),
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/api/progress/42" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("missing bearer token: %q", gotAuth)
	}
	if gotIdempotency != "abc" {
		t.Fatalf("task header not forwarded")
	}
	if string(gotBody) != `{"step":3}` {
		t.Fatalf("payload not forwarded: %q", gotBody)
	}
}

func TestReplayServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPReplayClient(ReplayClientOptions{BaseURL: server.URL})
	err := client.Replay(context.Background(), Task{Endpoint: "/api/progress/1"})
	var replayErr *ReplayError
	if !errors.As(err, &replayErr) {
		t.Fatalf("expected ReplayError, got %v", err)
	}
	if !replayErr.Retryable {
		t.Fatalf("503 should be retryable: %+v", replayErr)
	}
	if replayErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", replayErr.StatusCode)
	}
}

func TestReplayClientRejectionIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "stale revision", http.StatusConflict)
	}))
	defer server.Close()

	client := NewHTTPReplayClient(ReplayClientOptions{BaseURL: server.URL})
	err := client.Replay(context.Background(), Task{Endpoint: "/api/progress/1"})
	var replayErr *ReplayError
	if !errors.As(err, &replayErr) {
		t.Fatalf("expected ReplayError, got %v", err)
	}
	if replayErr.Retryable {
		t.Fatalf("409 should not be retryable: %+v", replayErr)
	}
}

func TestReplayNetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := NewHTTPReplayClient(ReplayClientOptions{BaseURL: server.URL})
	err := client.Replay(context.Background(), Task{Endpoint: "/api/progress/1"})
	var replayErr *ReplayError
	if !errors.As(err, &replayErr) {
		t.Fatalf("expected ReplayError, got %v", err)
	}
	if !replayErr.Retryable {
		t.Fatalf("connection refusal should be retryable: %+v", replayErr)
	}
}

func TestReplayDefaultsToPost(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPReplayClient(ReplayClientOptions{BaseURL: server.URL})
	if err := client.Replay(context.Background(), Task{Endpoint: "/api/progress/1"}); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST default, got %s", gotMethod)
	}
}

func TestBuildTaskStoreFromDSN(t *testing.T) {
	store, err := BuildTaskStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory dsn failed: %v", err)
	}
	if _, ok := store.(*InMemoryTaskStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}

	fileStore, err := BuildTaskStoreFromDSN("file://" + t.TempDir() + "/queue.json")
	if err != nil {
		t.Fatalf("file dsn failed: %v", err)
	}
	if _, ok := fileStore.(*JSONFileTaskStore); !ok {
		t.Fatalf("expected file store, got %T", fileStore)
	}

	if _, err := BuildTaskStoreFromDSN("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestFileDSNKeepsRelativePath(t *testing.T) {
	store, err := BuildTaskStoreFromDSN("file://.opscache/sync-queue.json")
	if err != nil {
		t.Fatalf("relative file dsn failed: %v", err)
	}
	fileStore, ok := store.(*JSONFileTaskStore)
	if !ok {
		t.Fatalf("expected file store, got %T", store)
	}
	if fileStore.Path != ".opscache/sync-queue.json" {
		t.Fatalf("path resolved to %q, want %q", fileStore.Path, ".opscache/sync-queue.json")
	}
}
