package effects_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/on-the-ground/saga_ive_go/effects"
)

const waitTimeout = 2 * time.Second

func newTestEngine(t *testing.T, opts ...effects.Option) (*effects.Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	opts = append([]effects.Option{effects.WithLogger(zap.New(core))}, opts...)
	return effects.New(context.Background(), opts...), logs
}

// boot starts root and stops the engine when the test ends.
func boot(t *testing.T, e *effects.Engine, root effects.Workflow, args ...any) *effects.Task {
	t.Helper()
	task, err := e.Start(root, args...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = e.Stop(ctx, task)
	})
	return task
}

func wait(t *testing.T, task *effects.Task) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	v, err := task.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task %s did not finish", task)
	return v, err
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, waitTimeout, time.Millisecond, msg)
}

// recorder collects every event published on an engine.
type recorder struct {
	mu     sync.Mutex
	events []effects.Event
}

func record(e *effects.Engine) *recorder {
	r := &recorder{}
	e.Subscribe(func(ev effects.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func (r *recorder) Payloads(typ string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev.Payload)
		}
	}
	return out
}

func (r *recorder) Count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(slices.DeleteFunc(slices.Clone(r.events), func(ev effects.Event) bool { return ev.Type != typ }))
}

// handles lets workflows hand task handles out to the test.
func handles(n int) chan *effects.Task {
	return make(chan *effects.Task, n)
}

func receive(t *testing.T, ch chan *effects.Task) *effects.Task {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(waitTimeout):
		t.Fatal("no task handle received")
		return nil
	}
}

// forever blocks on an event nobody dispatches.
func forever(t *effects.Task, _ ...any) (any, error) {
	_, err := t.Take(effects.Exact("NEVER"))
	return nil, err
}
