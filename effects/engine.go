package effects

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/on-the-ground/saga_ive_go/effects/internal/executor"
	"github.com/on-the-ground/saga_ive_go/effects/internal/mailbox"
)

// Engine runs workflows. All task bookkeeping happens on a single loop
// goroutine fed through a mailbox; workflows run on their own goroutines but
// only one of them, or the loop, is active at a time.
type Engine struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	opts   options

	mbox     *mailbox.Mailbox[func()]
	exec     *executor.Executor
	nextID   atomic.Uint64
	loopDone chan struct{}
	allDone  chan struct{}

	mu        sync.Mutex
	listeners []*listener
	booted    bool
	closed    bool
	stopped   bool

	// Loop-owned.
	channel  *channel
	live     map[uint64]*Task
	ready    []readyTask
	turnEnd  []func()
	stopping bool
	drained  bool

	timers   timerQueue
	timerSeq uint64
	wake     *time.Timer
	wakeAt   time.Time
	armed    bool
}

type listener struct {
	fn func(Event)
}

type readyTask struct {
	task *Task
	seq  uint64
	out  outcome
}

// New creates an engine and starts its loop. When ctx is done before Stop,
// every live task is cancelled as by Stop and the engine stops accepting
// work; Stop must still be called to release the call workers.
func New(ctx context.Context, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New().String()
	logger := o.logger.With(zap.String("engine", id))
	ctx, cancel := context.WithCancel(ctx)

	e := &Engine{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		opts:     o,
		mbox:     mailbox.New[func()](),
		exec:     executor.New(context.WithoutCancel(ctx), executor.NewConfig(o.callPartitions), logger),
		loopDone: make(chan struct{}),
		allDone:  make(chan struct{}),
		channel:  newChannel(logger),
		live:     make(map[uint64]*Task),
	}
	go e.loop()
	return e
}

func (e *Engine) ID() string { return e.id }

// Start boots root as the top-level task. An engine accepts a single root:
// further calls fail with ErrDuplicateBoot.
func (e *Engine) Start(root Workflow, args ...any) (*Task, error) {
	if root == nil {
		return nil, ErrNilWorkflow
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return nil, ErrEngineClosed
	case e.booted:
		e.mu.Unlock()
		return nil, ErrDuplicateBoot
	}
	e.booted = true

	t := newTask(e, nil, root, args, "root")
	ok := e.post(func() {
		if e.stopping {
			t.cancelRequested = true
			e.mainReturned(t, outcome{})
			return
		}
		e.live[t.id] = t
		go t.main()
		e.drive(t, outcome{})
	})
	e.mu.Unlock()
	if !ok {
		return nil, ErrEngineClosed
	}
	e.logger.Info("engine booted", zap.Stringer("root", t))
	return t, nil
}

// Stop cancels handle, every other live task including detached ones, and
// waits for all of them to finish or for ctx to be done. The engine cannot be
// used afterwards.
func (e *Engine) Stop(ctx context.Context, handle *Task) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.stopped, e.closed = true, true
	e.mu.Unlock()

	e.post(func() { e.shutdown(handle) })

	var err error
	select {
	case <-e.allDone:
	case <-e.loopDone:
		select {
		case <-e.allDone:
		default:
			err = fmt.Errorf("%w: loop exited before tasks finished", ErrEngineClosed)
		}
	case <-ctx.Done():
		err = fmt.Errorf("%w: stop: %w", ErrEngineClosed, ctx.Err())
	}

	e.mbox.Close()
	e.cancel()
	if err != nil {
		// Tasks still running own goroutines that may be blocked in user code.
		go e.exec.Close()
		e.logger.Warn("engine stopped before all tasks finished", zap.Error(err))
		return err
	}
	<-e.loopDone
	e.exec.Close()
	e.logger.Info("engine stopped")
	return nil
}

// Dispatch publishes ev from the host. It never blocks: the event is matched
// on the loop after the call returns.
func (e *Engine) Dispatch(ev Event) error {
	if !e.post(func() { e.publish(ev) }) {
		return ErrEngineClosed
	}
	return nil
}

// Cancel requests cancellation of task from the host. Like Dispatch it does
// not wait; use task.Wait to observe the outcome.
func (e *Engine) Cancel(task *Task) error {
	if task == nil || task.engine != e {
		return fmt.Errorf("%w: task does not belong to engine %s", ErrUnsupportedEffect, e.id)
	}
	if !e.post(func() { e.cancelTask(task) }) {
		return ErrEngineClosed
	}
	return nil
}

// Subscribe registers fn to receive every published event, dispatched or
// Put, before takers see it. fn runs on the loop goroutine and must not
// block. The returned function removes the subscription.
func (e *Engine) Subscribe(fn func(Event)) func() {
	l := &listener{fn: fn}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.listeners = slices.DeleteFunc(e.listeners, func(x *listener) bool { return x == l })
		})
	}
}

func (e *Engine) post(fn func()) bool {
	return e.mbox.Push(fn)
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	defer e.stopTimers()

	ctxDone := e.ctx.Done()
	var drained <-chan struct{}
	for {
		select {
		case <-e.mbox.Signal():
			e.runTurn(e.mbox.Drain())
		case <-e.mbox.Closed():
			return
		case <-ctxDone:
			ctxDone, drained = nil, e.allDone
			e.mu.Lock()
			e.closed = true
			e.mu.Unlock()
			e.logger.Warn("engine context done, cancelling tasks", zap.Error(e.ctx.Err()))
			e.shutdown(nil)
			e.runTurn(nil)
		case <-drained:
			e.mbox.Close()
			e.runTurn(e.mbox.Drain())
			return
		}
	}
}

// runTurn runs fns in order, resuming settled tasks after each one, then the
// end-of-turn hooks.
func (e *Engine) runTurn(fns []func()) {
	for _, fn := range fns {
		fn()
		e.flushReady()
	}
	for len(e.turnEnd) > 0 {
		hooks := e.turnEnd
		e.turnEnd = nil
		for _, fn := range hooks {
			fn()
			e.flushReady()
		}
	}
}

// atTurnEnd defers fn until every mailbox item of the current turn ran.
func (e *Engine) atTurnEnd(fn func()) {
	e.turnEnd = append(e.turnEnd, fn)
}

// shutdown cancels handle and then every live task, detached ones included.
func (e *Engine) shutdown(handle *Task) {
	e.stopping = true
	if handle != nil {
		e.cancelTask(handle)
	}
	for _, t := range e.liveTasks() {
		e.cancelTask(t)
	}
	e.checkDrained()
}

func (e *Engine) enqueue(t *Task, seq uint64, out outcome) {
	e.ready = append(e.ready, readyTask{task: t, seq: seq, out: out})
}

// flushReady resumes tasks whose pending effect settled, in settlement order.
func (e *Engine) flushReady() {
	for len(e.ready) > 0 {
		r := e.ready[0]
		e.ready[0] = readyTask{}
		e.ready = e.ready[1:]
		if r.task.seq != r.seq || r.task.running || r.task.mainDone {
			continue
		}
		e.drive(r.task, r.out)
	}
	e.ready = nil
}

func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		e.notify(l, ev)
	}
	e.channel.publish(ev)
}

func (e *Engine) notify(l *listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in listener", zap.String("event", ev.Type), zap.Any("error", r))
		}
	}()
	l.fn(ev)
}

func (e *Engine) liveTasks() []*Task {
	tasks := slices.Collect(maps.Values(e.live))
	slices.SortFunc(tasks, func(a, b *Task) int { return cmp.Compare(a.id, b.id) })
	return tasks
}

func (e *Engine) checkDrained() {
	if e.stopping && !e.drained && len(e.live) == 0 {
		e.drained = true
		close(e.allDone)
	}
}
