package telemetry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type Counters struct {
	CacheHits         uint64 `json:"cacheHits"`
	CacheMisses       uint64 `json:"cacheMisses"`
	NetworkRequests   uint64 `json:"networkRequests"`
	OfflineServed     uint64 `json:"offlineServed"`
	QueuedMutations   uint64 `json:"queuedMutations"`
	ReplayedMutations uint64 `json:"replayedMutations"`
	FailedMutations   uint64 `json:"failedMutations"`
}

type Snapshot struct {
	Counters
	HitRate float64   `json:"hitRate"`
	TakenAt time.Time `json:"takenAt"`
}

type Observer func(Snapshot)

// Aggregator counts request outcomes for the lifetime of the process. It is
// injected into the executors rather than held as ambient global state, and
// it must never block or fail a request path: observer callbacks run on the
// interval goroutine and panics in them are swallowed.
type Aggregator struct {
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	networkRequests   atomic.Uint64
	offlineServed     atomic.Uint64
	queuedMutations   atomic.Uint64
	replayedMutations atomic.Uint64
	failedMutations   atomic.Uint64

	mu        sync.Mutex
	observers []Observer
	interval  time.Duration
	logger    *log.Logger
}

type Options struct {
	Interval time.Duration
	Logger   *log.Logger
}

func New() *Aggregator {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Aggregator {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{interval: interval, logger: logger}
}

func (a *Aggregator) CacheHit()         { a.cacheHits.Add(1) }
func (a *Aggregator) CacheMiss()        { a.cacheMisses.Add(1) }
func (a *Aggregator) NetworkRequest()   { a.networkRequests.Add(1) }
func (a *Aggregator) OfflineServed()    { a.offlineServed.Add(1) }
func (a *Aggregator) MutationQueued()   { a.queuedMutations.Add(1) }
func (a *Aggregator) MutationReplayed() { a.replayedMutations.Add(1) }
func (a *Aggregator) MutationFailed()   { a.failedMutations.Add(1) }

func (a *Aggregator) Snapshot() Snapshot {
	counters := Counters{
		CacheHits:         a.cacheHits.Load(),
		CacheMisses:       a.cacheMisses.Load(),
		NetworkRequests:   a.networkRequests.Load(),
		OfflineServed:     a.offlineServed.Load(),
		QueuedMutations:   a.queuedMutations.Load(),
		ReplayedMutations: a.replayedMutations.Load(),
		FailedMutations:   a.failedMutations.Load(),
	}
	hitRate := 0.0
	if total := counters.CacheHits + counters.CacheMisses; total > 0 {
		hitRate = float64(counters.CacheHits) / float64(total)
	}
	return Snapshot{Counters: counters, HitRate: hitRate, TakenAt: time.Now().UTC()}
}

// Reset zeroes every counter. Intended for process start only.
func (a *Aggregator) Reset() {
	a.cacheHits.Store(0)
	a.cacheMisses.Store(0)
	a.networkRequests.Store(0)
	a.offlineServed.Store(0)
	a.queuedMutations.Store(0)
	a.replayedMutations.Store(0)
	a.failedMutations.Store(0)
}

func (a *Aggregator) Subscribe(observer Observer) {
	if observer == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, observer)
}

// Run emits a snapshot to every observer on a fixed interval until the
// context is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emit()
		}
	}
}

func (a *Aggregator) emit() {
	snapshot := a.Snapshot()
	a.mu.Lock()
	observers := append([]Observer(nil), a.observers...)
	a.mu.Unlock()
	for _, observer := range observers {
		a.notify(observer, snapshot)
	}
}

func (a *Aggregator) notify(observer Observer, snapshot Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("telemetry: observer panic recovered: %v", r)
		}
	}()
	observer(snapshot)
}
