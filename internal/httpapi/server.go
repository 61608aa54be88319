package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shiftserve/opscache/internal/cachestore"
	"github.com/shiftserve/opscache/internal/catalog"
	"github.com/shiftserve/opscache/internal/connectivity"
	"github.com/shiftserve/opscache/internal/notify"
	"github.com/shiftserve/opscache/internal/syncqueue"
	"github.com/shiftserve/opscache/internal/telemetry"
)

type ServerConfig struct {
	BackendBaseURL string
	MaxBodyBytes   int64
	DrainTimeout   time.Duration
}

// Server is the agent's loopback surface: status and queue inspection for
// the operations app, a websocket event feed, and a reverse proxy path that
// routes device traffic through the caching transport.
type Server struct {
	store     cachestore.Store
	queue     *syncqueue.Queue
	telemetry *telemetry.Aggregator
	hub       *notify.Hub
	monitor   *connectivity.Monitor
	proxy     *http.Client
	cfg       ServerConfig
	logger    *log.Logger
}

type Dependencies struct {
	Store       cachestore.Store
	Queue       *syncqueue.Queue
	Telemetry   *telemetry.Aggregator
	Hub         *notify.Hub
	Monitor     *connectivity.Monitor
	ProxyClient *http.Client
	Logger      *log.Logger
}

func NewServer(deps Dependencies, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Minute
	}
	cfg.BackendBaseURL = strings.TrimRight(strings.TrimSpace(cfg.BackendBaseURL), "/")
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	proxy := deps.ProxyClient
	if proxy == nil {
		proxy = http.DefaultClient
	}
	return &Server{
		store:     deps.Store,
		queue:     deps.Queue,
		telemetry: deps.Telemetry,
		hub:       deps.Hub,
		monitor:   deps.Monitor,
		proxy:     proxy,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		online := false
		if s.monitor != nil {
			online = s.monitor.Online()
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": online})
		return
	}
	if r.URL.Path == "/v1/telemetry" && r.Method == http.MethodGet {
		s.handleTelemetry(w, r)
		return
	}
	if r.URL.Path == "/v1/partitions" && r.Method == http.MethodGet {
		s.handlePartitions(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/pending" && r.Method == http.MethodGet {
		s.handleSyncPending(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/failed" && r.Method == http.MethodGet {
		s.handleSyncFailed(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/drain" && r.Method == http.MethodPost {
		s.handleSyncDrain(w, r)
		return
	}
	if r.URL.Path == "/v1/events" && r.Method == http.MethodGet {
		if s.hub == nil {
			writeError(w, http.StatusNotFound, "not_found", "event feed not enabled")
			return
		}
		s.hub.ServeHTTP(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/proxy/") {
		s.handleProxy(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "route not found")
}

func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusNotFound, "not_found", "telemetry not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.telemetry.Snapshot())
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "not_found", "store not configured")
		return
	}
	names, err := s.store.ListPartitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	type partitionInfo struct {
		Name     string `json:"name"`
		Entries  int    `json:"entries"`
		Known    bool   `json:"known"`
		Critical bool   `json:"critical,omitempty"`
	}
	infos := make([]partitionInfo, 0, len(names))
	for _, name := range names {
		info := partitionInfo{Name: name}
		if partition, ok := catalog.Lookup(name); ok {
			info.Known = true
			info.Critical = partition.Critical
		}
		if keys, err := s.store.Keys(r.Context(), name); err == nil {
			info.Entries = len(keys)
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": catalog.Version, "partitions": infos})
}

func (s *Server) handleSyncPending(w http.ResponseWriter, _ *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "not_found", "sync queue not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": redactTasks(s.queue.PeekPending())})
}

func (s *Server) handleSyncFailed(w http.ResponseWriter, _ *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "not_found", "sync queue not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": redactTasks(s.queue.Failed())})
}

func (s *Server) handleSyncDrain(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "not_found", "sync queue not enabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DrainTimeout)
	defer cancel()
	result, err := s.queue.Drain(ctx)
	if errors.Is(err, syncqueue.ErrDrainInProgress) {
		writeError(w, http.StatusConflict, "drain_in_progress", "a drain is already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "drain_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProxy forwards loopback traffic to the backend through the caching
// transport, so non-Go processes on the device get the same offline
// behavior as in-process clients.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BackendBaseURL == "" {
		writeError(w, http.StatusNotFound, "not_found", "proxy not configured")
		return
	}
	target := s.cfg.BackendBaseURL + strings.TrimPrefix(r.URL.Path, "/proxy")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	for name, values := range r.Header {
		if name == "Connection" || name == "Upgrade" {
			continue
		}
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	resp, err := s.proxy.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	defer resp.Body.Close()
	for name, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Printf("httpapi: proxy copy failed: %v", err)
	}
}

type taskView struct {
	ID            string     `json:"id"`
	Target        string     `json:"target"`
	Method        string     `json:"method"`
	Endpoint      string     `json:"endpoint"`
	CreatedAt     time.Time  `json:"createdAt"`
	AttemptCount  int        `json:"attemptCount"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
	Status        string     `json:"status"`
}

// redactTasks drops payload bytes from inspection responses.
func redactTasks(tasks []syncqueue.Task) []taskView {
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView{
			ID:            task.ID,
			Target:        task.Target,
			Method:        task.Method,
			Endpoint:      task.Endpoint,
			CreatedAt:     task.CreatedAt,
			AttemptCount:  task.AttemptCount,
			NextAttemptAt: task.NextAttemptAt,
			LastError:     task.LastError,
			Status:        string(task.Status),
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": message}})
}
