package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

type Recorder interface {
	MutationQueued()
	MutationReplayed()
	MutationFailed()
}

type Options struct {
	Store              TaskStore
	Replayer           Replayer
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	Recorder           Recorder
	Logger             *log.Logger
	Clock              func() time.Time
	DisableAutoRedrain bool
}

type DrainResult struct {
	Replayed int `json:"replayed"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// Queue holds mutations made while offline and replays them once
// connectivity returns. Replay order is strict FIFO per target; unrelated
// targets do not block each other. A task stays queued until the backend
// acknowledges its replay; after MaxAttempts failed attempts it is parked as
// failed and left for inspection instead of retrying forever.
type Queue struct {
	mu       sync.Mutex
	tasks    []Task
	counter  uint64
	draining bool

	store       TaskStore
	replayer    Replayer
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	recorder    Recorder
	logger      *log.Logger
	clock       func() time.Time
	autoRedrain bool

	closed    chan struct{}
	closeOnce sync.Once
}

func New(opts Options) (*Queue, error) {
	store := opts.Store
	if store == nil {
		store = NewInMemoryTaskStore()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	backoffCap := opts.BackoffCap
	if backoffCap <= 0 {
		backoffCap = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	q := &Queue{
		store:       store,
		replayer:    opts.Replayer,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		recorder:    opts.Recorder,
		logger:      logger,
		clock:       clock,
		autoRedrain: !opts.DisableAutoRedrain,
		closed:      make(chan struct{}),
	}
	snapshot, err := store.Load()
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		q.counter = snapshot.TaskCounter
		q.tasks = append(q.tasks, snapshot.Tasks...)
		// A task caught in-flight by a crash never received an ack.
		for i := range q.tasks {
			if q.tasks[i].Status == StatusInFlight {
				q.tasks[i].Status = StatusPending
			}
		}
	}
	return q, nil
}

func (q *Queue) Enqueue(task Task) (Task, error) {
	if strings.TrimSpace(task.Target) == "" || strings.TrimSpace(task.Endpoint) == "" {
		return Task{}, ErrInvalidInput
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.closed:
		return Task{}, ErrClosed
	default:
	}
	q.counter++
	task.ID = fmt.Sprintf("task_%d", q.counter)
	task.Status = StatusPending
	task.AttemptCount = 0
	task.NextAttemptAt = nil
	task.LastError = nil
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.clock()
	}
	q.tasks = append(q.tasks, task)
	if err := q.saveLocked(); err != nil {
		q.tasks = q.tasks[:len(q.tasks)-1]
		q.counter--
		return Task{}, err
	}
	if q.recorder != nil {
		q.recorder.MutationQueued()
	}
	return task, nil
}

func (q *Queue) PeekPending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := []Task{}
	for _, task := range q.tasks {
		if task.Status == StatusPending {
			pending = append(pending, task)
		}
	}
	return pending
}

func (q *Queue) Failed() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	failed := []Task{}
	for _, task := range q.tasks {
		if task.Status == StatusFailed {
			failed = append(failed, task)
		}
	}
	return failed
}

func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := 0
	for _, task := range q.tasks {
		if task.Status == StatusPending {
			depth++
		}
	}
	return depth
}

// Drain replays pending tasks. A second Drain while one is running returns
// ErrDrainInProgress instead of duplicating in-flight replays.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return DrainResult{}, ErrDrainInProgress
	}
	select {
	case <-q.closed:
		q.mu.Unlock()
		return DrainResult{}, ErrClosed
	default:
	}
	q.draining = true
	q.mu.Unlock()

	result := q.drain(ctx)

	q.mu.Lock()
	q.draining = false
	result.Pending = 0
	for _, task := range q.tasks {
		if task.Status == StatusPending {
			result.Pending++
		}
	}
	q.mu.Unlock()

	if q.autoRedrain && result.Pending > 0 {
		q.scheduleRedrain()
	}
	return result, nil
}

func (q *Queue) drain(ctx context.Context) DrainResult {
	result := DrainResult{}
	now := q.clock()
	for {
		if ctx.Err() != nil {
			return result
		}
		task, ok := q.takeNext(now)
		if !ok {
			return result
		}
		err := q.replay(ctx, task)
		if err == nil {
			q.completeTask(task.ID)
			result.Replayed++
			if q.recorder != nil {
				q.recorder.MutationReplayed()
			}
			continue
		}
		if ctx.Err() != nil {
			q.requeueTask(task.ID, nil, err)
			return result
		}
		attempt := task.AttemptCount + 1
		var replayErr *ReplayError
		nonRetryable := errors.As(err, &replayErr) && !replayErr.Retryable
		if nonRetryable || attempt >= q.maxAttempts {
			q.parkTask(task.ID, attempt, err)
			result.Failed++
			if q.recorder != nil {
				q.recorder.MutationFailed()
			}
			q.logger.Printf("syncqueue: task %s parked after %d attempts: %v", task.ID, attempt, err)
			continue
		}
		delay := q.backoff(attempt)
		nextAt := q.clock().Add(delay)
		q.deferTask(task.ID, attempt, nextAt, err)
		result.Deferred++
		q.logger.Printf("syncqueue: task %s deferred %s (attempt %d/%d): %v", task.ID, delay, attempt, q.maxAttempts, err)
	}
}

// takeNext picks the oldest pending task whose target has no earlier pending
// or deferred-but-unexpired task and is not already backing off, then marks
// it in-flight.
func (q *Queue) takeNext(now time.Time) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	blockedTargets := map[string]bool{}
	for i := range q.tasks {
		task := q.tasks[i]
		if task.Status != StatusPending {
			continue
		}
		if blockedTargets[task.Target] {
			continue
		}
		if task.NextAttemptAt != nil && task.NextAttemptAt.After(now) {
			// Head of this target is backing off; everything behind it waits.
			blockedTargets[task.Target] = true
			continue
		}
		q.tasks[i].Status = StatusInFlight
		_ = q.saveLocked()
		return q.tasks[i], true
	}
	return Task{}, false
}

func (q *Queue) replay(ctx context.Context, task Task) error {
	if q.replayer == nil {
		return &ReplayError{Message: "no replayer configured", Retryable: true}
	}
	return q.replayer.Replay(ctx, task)
}

func (q *Queue) completeTask(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	_ = q.saveLocked()
}

func (q *Queue) parkTask(id string, attempt int, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			errText := cause.Error()
			q.tasks[i].Status = StatusFailed
			q.tasks[i].AttemptCount = attempt
			q.tasks[i].NextAttemptAt = nil
			q.tasks[i].LastError = &errText
			break
		}
	}
	_ = q.saveLocked()
}

func (q *Queue) deferTask(id string, attempt int, nextAt time.Time, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			errText := cause.Error()
			q.tasks[i].Status = StatusPending
			q.tasks[i].AttemptCount = attempt
			q.tasks[i].NextAttemptAt = &nextAt
			q.tasks[i].LastError = &errText
			break
		}
	}
	_ = q.saveLocked()
}

func (q *Queue) requeueTask(id string, nextAt *time.Time, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			errText := cause.Error()
			q.tasks[i].Status = StatusPending
			q.tasks[i].NextAttemptAt = nextAt
			q.tasks[i].LastError = &errText
			break
		}
	}
	_ = q.saveLocked()
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.backoffCap {
			return q.backoffCap
		}
	}
	if delay > q.backoffCap {
		return q.backoffCap
	}
	return delay
}

func (q *Queue) scheduleRedrain() {
	q.mu.Lock()
	var earliest *time.Time
	for _, task := range q.tasks {
		if task.Status != StatusPending || task.NextAttemptAt == nil {
			continue
		}
		if earliest == nil || task.NextAttemptAt.Before(*earliest) {
			at := *task.NextAttemptAt
			earliest = &at
		}
	}
	q.mu.Unlock()
	if earliest == nil {
		return
	}
	delay := time.Until(*earliest)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		select {
		case <-q.closed:
			return
		default:
		}
		if _, err := q.Drain(context.Background()); err != nil && !errors.Is(err, ErrDrainInProgress) && !errors.Is(err, ErrClosed) {
			q.logger.Printf("syncqueue: scheduled drain failed: %v", err)
		}
	})
}

func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		if closer, ok := q.store.(taskStoreCloser); ok {
			_ = closer.Close()
		}
	})
}

func (q *Queue) saveLocked() error {
	state := &queueState{
		TaskCounter: q.counter,
		Tasks:       append([]Task(nil), q.tasks...),
	}
	if err := q.store.Save(state); err != nil {
		q.logger.Printf("syncqueue: persist failed: %v", err)
		return err
	}
	return nil
}
