package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shiftserve/opscache/internal/cachestore"
	"github.com/shiftserve/opscache/internal/catalog"
	"github.com/shiftserve/opscache/internal/engine"
)

type EventFunc func(eventType string, data any)

type Options struct {
	Store         cachestore.Store
	BaseURL       string
	HTTPClient    *http.Client
	SeedTimeout   time.Duration
	SweepInterval time.Duration
	MaxSeedBody   int64
	Logger        *log.Logger
	Clock         func() time.Time
	Events        EventFunc
	Partitions    []catalog.Partition
	Manifest      []string
}

// Manager owns partition lifetimes: it opens the current version's
// partitions, seeds the critical manifest, deletes partitions left behind by
// prior versions, and sweeps TTL-expired entries on a fixed interval.
type Manager struct {
	store         cachestore.Store
	baseURL       string
	httpClient    *http.Client
	seedTimeout   time.Duration
	sweepInterval time.Duration
	maxSeedBody   int64
	logger        *log.Logger
	clock         func() time.Time
	events        EventFunc
	partitions    []catalog.Partition
	manifest      []string
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("lifecycle: store is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	seedTimeout := opts.SeedTimeout
	if seedTimeout <= 0 {
		seedTimeout = 10 * time.Second
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	maxSeedBody := opts.MaxSeedBody
	if maxSeedBody <= 0 {
		maxSeedBody = 10 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	partitions := opts.Partitions
	if partitions == nil {
		partitions = catalog.Partitions
	}
	manifest := opts.Manifest
	if manifest == nil {
		manifest = catalog.CriticalManifest
	}
	return &Manager{
		store:         opts.Store,
		baseURL:       strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient:    httpClient,
		seedTimeout:   seedTimeout,
		sweepInterval: sweepInterval,
		maxSeedBody:   maxSeedBody,
		logger:        logger,
		clock:         clock,
		events:        opts.Events,
		partitions:    partitions,
		manifest:      manifest,
	}, nil
}

// Install runs the startup sequence: open every current partition, seed the
// critical manifest best-effort, then drop partitions from prior versions.
func (m *Manager) Install(ctx context.Context) error {
	for _, partition := range m.partitions {
		if err := m.store.EnsurePartition(ctx, partition.Name()); err != nil {
			return fmt.Errorf("ensure partition %s: %w", partition.Name(), err)
		}
	}
	m.Seed(ctx)
	if err := m.CleanupStale(ctx); err != nil {
		return err
	}
	m.emit("activated", map[string]any{"version": catalog.Version})
	return nil
}

// Seed fetches every critical manifest document plus the generic offline
// page. A single unreachable resource does not abort the rest.
func (m *Manager) Seed(ctx context.Context) int {
	criticalPartition := catalog.PartitionName(catalog.BaseCritical)
	seeded := 0
	for _, id := range m.manifest {
		endpoint := "/api/documents/" + id
		key := "GET " + endpoint
		if err := m.seedResource(ctx, criticalPartition, key, endpoint); err != nil {
			m.logger.Printf("lifecycle: seeding %s failed: %v", id, err)
			continue
		}
		seeded++
	}
	pagesPartition := catalog.PartitionName(catalog.BasePages)
	if err := m.seedResource(ctx, pagesPartition, engine.OfflinePageKey, "/offline"); err != nil {
		m.logger.Printf("lifecycle: seeding offline page failed: %v", err)
	}
	m.emit("seeded", map[string]any{"seeded": seeded, "manifest": len(m.manifest)})
	return seeded
}

func (m *Manager) seedResource(ctx context.Context, partition, key, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, m.seedTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxSeedBody))
	if err != nil {
		return err
	}
	entry := cachestore.Entry{
		Status:   resp.StatusCode,
		Header:   map[string][]string(resp.Header.Clone()),
		Body:     body,
		StoredAt: m.clock(),
	}
	return m.store.Put(ctx, partition, key, entry)
}

// CleanupStale deletes every partition not present in the current version's
// table. Old-version partitions are removed wholesale, never merged.
func (m *Manager) CleanupStale(ctx context.Context) error {
	names, err := m.store.ListPartitions(ctx)
	if err != nil {
		return err
	}
	current := map[string]bool{}
	for _, partition := range m.partitions {
		current[partition.Name()] = true
	}
	for _, name := range names {
		if current[name] {
			continue
		}
		if err := m.store.DeletePartition(ctx, name); err != nil {
			m.logger.Printf("lifecycle: deleting stale partition %s failed: %v", name, err)
			continue
		}
		m.logger.Printf("lifecycle: deleted stale partition %s", name)
		m.emit("partition.deleted", map[string]any{"partition": name})
	}
	return nil
}

// Sweep removes TTL-expired entries and enforces entry caps. Critical
// partitions are exempt: their entries expire only via manifest updates.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.clock()
	for _, partition := range m.partitions {
		if partition.Critical {
			continue
		}
		m.sweepPartition(ctx, partition, now)
	}
}

func (m *Manager) sweepPartition(ctx context.Context, partition catalog.Partition, now time.Time) {
	name := partition.Name()
	keys, err := m.store.Keys(ctx, name)
	if err != nil {
		m.logger.Printf("lifecycle: listing %s failed: %v", name, err)
		return
	}
	type keyedEntry struct {
		key      string
		storedAt time.Time
	}
	kept := make([]keyedEntry, 0, len(keys))
	for _, key := range keys {
		entry, err := m.store.Get(ctx, name, key)
		if err != nil {
			continue
		}
		if partition.TTL > 0 && now.Sub(entry.StoredAt) > partition.TTL {
			if err := m.store.Delete(ctx, name, key); err != nil {
				m.logger.Printf("lifecycle: expiring %s/%s failed: %v", name, key, err)
			}
			continue
		}
		kept = append(kept, keyedEntry{key: key, storedAt: entry.StoredAt})
	}
	if partition.MaxEntries <= 0 || len(kept) <= partition.MaxEntries {
		return
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].storedAt.Before(kept[j].storedAt) })
	excess := kept[:len(kept)-partition.MaxEntries]
	for _, entry := range excess {
		if err := m.store.Delete(ctx, name, entry.key); err != nil {
			m.logger.Printf("lifecycle: evicting %s/%s failed: %v", name, entry.key, err)
		}
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *Manager) emit(eventType string, data any) {
	if m.events == nil {
		return
	}
	m.events(eventType, data)
}
