package connectivity

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type ChangeFunc func(online bool)

type Options struct {
	ProbeURL   string
	HTTPClient *http.Client
	Interval   time.Duration
	Timeout    time.Duration
	Logger     *log.Logger
}

// Monitor probes the backend health endpoint on an interval and notifies
// subscribers on online/offline transitions. Notifications are
// edge-triggered: a handler fires once per transition, not per probe.
type Monitor struct {
	probeURL string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	online   bool
	known    bool
	handlers []ChangeFunc
}

func NewMonitor(opts Options) *Monitor {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		probeURL: strings.TrimSpace(opts.ProbeURL),
		client:   client,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) OnChange(handler ChangeFunc) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Probe checks connectivity once and applies any resulting transition.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := m.probe(ctx)
	m.apply(online)
	return online
}

// Run probes immediately, then on the configured interval, until the context
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (m *Monitor) apply(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	handlers := append([]ChangeFunc(nil), m.handlers...)
	m.mu.Unlock()
	if !changed {
		return
	}
	if online {
		m.logger.Printf("connectivity: online")
	} else {
		m.logger.Printf("connectivity: offline")
	}
	for _, handler := range handlers {
		handler(online)
	}
}
