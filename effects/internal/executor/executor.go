// Package executor runs Call jobs off the scheduler loop.
//
// Unkeyed jobs each get their own supervised goroutine. Keyed jobs are routed
// to one of a fixed set of partitions by hashing the key, so jobs sharing a
// key run one at a time in submission order. Submission never blocks.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/on-the-ground/saga_ive_go/effects/internal/mailbox"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("executor closed")

// Job is one unit of work. ctx is cancelled when the executor closes.
type Job func(ctx context.Context)

// Config sizes an Executor.
type Config struct {
	// NumWorkers is the number of partitions serving keyed jobs.
	NumWorkers int
}

func NewConfig(numWorkers int) Config {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return Config{NumWorkers: numWorkers}
}

// Executor runs jobs on supervised goroutines until it is closed.
type Executor struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	partitions []*mailbox.Mailbox[Job]
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	inflight   atomic.Int64
}

// New starts the partition workers and returns once all of them are ready.
func New(ctx context.Context, cfg Config, logger *zap.Logger) *Executor {
	cfg = NewConfig(cfg.NumWorkers)
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.New().String()
	e := &Executor{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(zap.String("executor", id)),
		partitions: make([]*mailbox.Mailbox[Job], cfg.NumWorkers),
	}

	ready := sync.WaitGroup{}
	for i := range e.partitions {
		mb := mailbox.New[Job]()
		e.partitions[i] = mb
		ready.Add(1)
		e.wg.Add(1)
		go func(idx int) {
			defer e.wg.Done()
			ready.Done()
			e.servePartition(idx, mb)
		}(i)
	}
	ready.Wait()
	return e
}

func (e *Executor) ID() string { return e.id }

// Inflight is the number of submitted jobs that have not finished.
func (e *Executor) Inflight() int64 { return e.inflight.Load() }

// Submit schedules job. An empty key runs it on a fresh goroutine.
func (e *Executor) Submit(key string, job Job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	e.inflight.Add(1)
	if key == "" {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(job)
		}()
		return nil
	}
	if !e.partitions[partitionOf(key, len(e.partitions))].Push(job) {
		e.inflight.Add(-1)
		return ErrClosed
	}
	return nil
}

// Close cancels the context handed to running jobs, stops accepting new
// ones and waits for every goroutine to exit. Queued keyed jobs that have not
// started are dropped.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	for _, mb := range e.partitions {
		mb.Close()
	}
	e.wg.Wait()
}

func (e *Executor) servePartition(idx int, mb *mailbox.Mailbox[Job]) {
	for {
		select {
		case <-mb.Signal():
			for _, job := range mb.Drain() {
				if e.ctx.Err() != nil {
					e.inflight.Add(-1)
					continue
				}
				e.run(job)
			}
		case <-e.ctx.Done():
			dropped := len(mb.Drain())
			if dropped > 0 {
				e.inflight.Add(-int64(dropped))
				e.logger.Debug("dropped queued jobs", zap.Int("partition", idx), zap.Int("count", dropped))
			}
			return
		}
	}
}

func (e *Executor) run(job Job) {
	defer e.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in job",
				zap.String("error", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	job(e.ctx)
}

func partitionOf(key string, n int) int {
	switch n {
	case 0:
		panic("number of partitions cannot be 0")
	case 1:
		return 0
	default:
		return int(xxhash.Sum64String(key) % uint64(n))
	}
}
