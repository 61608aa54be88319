package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shiftserve/opscache/internal/cachestore"
	"github.com/shiftserve/opscache/internal/catalog"
	"github.com/shiftserve/opscache/internal/syncqueue"
)

// Recorder is the telemetry surface the executors report into. Calls must be
// cheap and must never fail the request path.
type Recorder interface {
	CacheHit()
	CacheMiss()
	NetworkRequest()
	OfflineServed()
}

// MutationQueue receives mutations that failed on connectivity.
type MutationQueue interface {
	Enqueue(task syncqueue.Task) (syncqueue.Task, error)
}

type Options struct {
	Store          cachestore.Store
	Classifier     *Classifier
	Fallback       *Fallback
	Queue          MutationQueue
	Telemetry      Recorder
	Upstream       http.RoundTripper
	NetworkTimeout time.Duration
	RefreshTimeout time.Duration
	MaxCacheBody   int64
	Logger         *log.Logger
	Clock          func() time.Time
}

// Transport is the interception surface: an http.RoundTripper the
// application's client is pointed at. Every outbound request is classified
// and served through one of the caching strategies; requests the classifier
// does not recognize pass through untouched.
type Transport struct {
	store          cachestore.Store
	classifier     *Classifier
	fallback       *Fallback
	queue          MutationQueue
	telemetry      Recorder
	upstream       http.RoundTripper
	networkTimeout time.Duration
	refreshTimeout time.Duration
	maxCacheBody   int64
	logger         *log.Logger
	clock          func() time.Time

	refreshMu sync.Mutex
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTransport(opts Options) *Transport {
	upstream := opts.Upstream
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = &Classifier{}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewFallback(opts.Store)
	}
	networkTimeout := opts.NetworkTimeout
	if networkTimeout <= 0 {
		networkTimeout = 3 * time.Second
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = 30 * time.Second
	}
	maxCacheBody := opts.MaxCacheBody
	if maxCacheBody <= 0 {
		maxCacheBody = 10 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Transport{
		store:          opts.Store,
		classifier:     classifier,
		fallback:       fallback,
		queue:          opts.Queue,
		telemetry:      opts.Telemetry,
		upstream:       upstream,
		networkTimeout: networkTimeout,
		refreshTimeout: refreshTimeout,
		maxCacheBody:   maxCacheBody,
		logger:         logger,
		clock:          clock,
		closed:         make(chan struct{}),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	route := t.classifier.Classify(req)
	switch route.Strategy {
	case catalog.StrategyPassthrough:
		return t.upstream.RoundTrip(req)
	case catalog.StrategyNetworkOnly:
		return t.networkOnly(req, route)
	case catalog.StrategyCacheFirst:
		return t.cacheFirst(req, route, false)
	case catalog.StrategyCacheFirstRefresh:
		return t.cacheFirst(req, route, true)
	case catalog.StrategyNetworkFirst:
		return t.networkFirst(req, route)
	default:
		return t.upstream.RoundTrip(req)
	}
}

// Close abandons in-flight background refreshes. Their failures are not
// propagated anywhere.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		// Taken against spawnRefresh so no refresh registers with the
		// WaitGroup after the wait below starts.
		t.refreshMu.Lock()
		close(t.closed)
		t.refreshMu.Unlock()
	})
	t.wg.Wait()
}

// cacheFirst serves the cached entry when present, regardless of its age;
// staleness is the sweep's concern, not the read path's. On a miss the
// network response is cached and returned. With refresh enabled a cache hit
// additionally triggers a detached re-fetch that can never affect the
// response already handed to the caller.
func (t *Transport) cacheFirst(req *http.Request, route Route, refresh bool) (*http.Response, error) {
	key := cacheKey(req)
	entry, err := t.store.Get(req.Context(), route.Partition, key)
	if err == nil {
		t.record(func(r Recorder) { r.CacheHit() })
		if refresh {
			t.spawnRefresh(req, route, key)
		}
		return responseFromEntry(entry, req), nil
	}
	if err != cachestore.ErrNotFound {
		t.logger.Printf("engine: cache read failed for %s, treating as miss: %v", key, err)
	}
	t.record(func(r Recorder) { r.CacheMiss() })
	t.record(func(r Recorder) { r.NetworkRequest() })
	resp, err := t.upstream.RoundTrip(req)
	if err == nil {
		var buffered *http.Response
		buffered, err = t.cacheAndReturn(req, route, key, resp)
		if err == nil {
			return buffered, nil
		}
		t.logger.Printf("engine: upstream body failed for %s: %v", key, err)
	}
	t.record(func(r Recorder) { r.OfflineServed() })
	return t.fallback.Response(req), nil
}

// networkFirst tries the network under a bounded timeout and falls back to
// the cached entry, then to the offline fallback.
func (t *Transport) networkFirst(req *http.Request, route Route) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.networkTimeout)
	defer cancel()
	t.record(func(r Recorder) { r.NetworkRequest() })
	resp, err := t.upstream.RoundTrip(req.Clone(ctx))
	if err == nil {
		var buffered *http.Response
		buffered, err = t.cacheAndReturn(req, route, cacheKey(req), resp)
		if err == nil {
			return buffered, nil
		}
		t.logger.Printf("engine: upstream body failed for %s: %v", cacheKey(req), err)
	}
	entry, cacheErr := t.store.Get(req.Context(), route.Partition, cacheKey(req))
	if cacheErr == nil {
		t.record(func(r Recorder) { r.CacheHit() })
		t.record(func(r Recorder) { r.OfflineServed() })
		return responseFromEntry(entry, req), nil
	}
	if cacheErr != cachestore.ErrNotFound {
		t.logger.Printf("engine: cache read failed for %s, treating as miss: %v", cacheKey(req), cacheErr)
	}
	t.record(func(r Recorder) { r.CacheMiss() })
	t.record(func(r Recorder) { r.OfflineServed() })
	return t.fallback.Response(req), nil
}

// networkOnly never reads the cache. Queueable mutations that fail on
// connectivity are diverted to the sync queue and acknowledged with 202;
// application-level rejections (any HTTP status) pass through untouched.
func (t *Transport) networkOnly(req *http.Request, route Route) (*http.Response, error) {
	var payload []byte
	if route.Queueable && req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(payload))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	t.record(func(r Recorder) { r.NetworkRequest() })
	resp, err := t.upstream.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if !route.Queueable || t.queue == nil {
		return nil, err
	}
	task, queueErr := t.queue.Enqueue(syncqueue.Task{
		Target:   req.URL.Path,
		Method:   req.Method,
		Endpoint: req.URL.RequestURI(),
		Header:   queueableHeaders(req.Header),
		Payload:  payload,
	})
	if queueErr != nil {
		t.logger.Printf("engine: failed to queue offline mutation for %s: %v", req.URL.Path, queueErr)
		return nil, err
	}
	t.record(func(r Recorder) { r.OfflineServed() })
	return queuedResponse(req, task.ID), nil
}

// cacheAndReturn buffers the upstream body so it can be both cached and
// handed to the caller. A body that fails mid-read is a connectivity error,
// not a shorter response.
func (t *Transport) cacheAndReturn(req *http.Request, route Route, key string, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK || route.Partition == "" {
		return resp, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxCacheBody+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if int64(len(body)) > t.maxCacheBody {
		return resp, nil
	}
	entry := cachestore.Entry{
		Status:   resp.StatusCode,
		Header:   map[string][]string(resp.Header.Clone()),
		Body:     body,
		StoredAt: t.clock(),
	}
	if err := t.store.Put(req.Context(), route.Partition, key, entry); err != nil {
		t.logger.Printf("engine: cache write failed for %s: %v", key, err)
	}
	return resp, nil
}

// spawnRefresh re-fetches the entry off the request path. The caller's
// response is already built from the cached copy, so nothing here may touch
// it; failures are logged and dropped.
func (t *Transport) spawnRefresh(req *http.Request, route Route, key string) {
	t.refreshMu.Lock()
	select {
	case <-t.closed:
		t.refreshMu.Unlock()
		return
	default:
	}
	t.wg.Add(1)
	t.refreshMu.Unlock()
	clone := req.Clone(context.Background())
	clone.Body = nil
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.refreshTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			select {
			case <-t.closed:
				cancel()
			case <-done:
			}
		}()
		defer close(done)

		resp, err := t.upstream.RoundTrip(clone.Clone(ctx))
		if err != nil {
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxCacheBody+1))
		if err != nil || int64(len(body)) > t.maxCacheBody {
			return
		}
		entry := cachestore.Entry{
			Status:   resp.StatusCode,
			Header:   map[string][]string(resp.Header.Clone()),
			Body:     body,
			StoredAt: t.clock(),
		}
		if err := t.store.Put(ctx, route.Partition, key, entry); err != nil {
			t.logger.Printf("engine: background refresh write failed for %s: %v", key, err)
		}
	}()
}

func (t *Transport) record(fn func(Recorder)) {
	if t.telemetry == nil {
		return
	}
	fn(t.telemetry)
}

func cacheKey(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + req.URL.RequestURI()
}

func queueableHeaders(header http.Header) map[string]string {
	kept := map[string]string{}
	for _, name := range []string{"Content-Type", "Idempotency-Key", "X-Correlation-Id"} {
		if value := header.Get(name); value != "" {
			kept[name] = value
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func queuedResponse(req *http.Request, taskID string) *http.Response {
	body, err := json.Marshal(map[string]any{
		"queued": true,
		"taskId": taskID,
		"status": "pending",
	})
	if err != nil {
		body = []byte(`{"queued":true}`)
	}
	resp := textResponse(req, http.StatusAccepted, "application/json", body)
	resp.Header.Set("X-Opscache-Queued", taskID)
	return resp
}
