package watcher_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/on-the-ground/saga_ive_go/effects"
	"github.com/on-the-ground/saga_ive_go/effects/watcher"
)

type recorder struct {
	mu     sync.Mutex
	events []effects.Event
}

func (r *recorder) add(ev effects.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) payloads(typ string) []any {
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

func start(t *testing.T, bindings ...watcher.Binding) (*effects.Engine, *recorder) {
	t.Helper()
	e := effects.New(context.Background(), effects.WithLogger(zaptest.NewLogger(t)))
	rec := &recorder{}
	e.Subscribe(rec.add)

	root, err := e.Start(func(t *effects.Task, _ ...any) (any, error) {
		if _, err := watcher.ForkAll(t, bindings...); err != nil {
			return nil, err
		}
		_, err := t.Take(effects.Exact("NEVER"))
		return nil, err
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, e.Stop(ctx, root))
	})
	return e, rec
}

// echo waits for a RELEASE event carrying its own payload, then puts DONE.
func echo(t *effects.Task, ev effects.Event) (any, error) {
	_, err := t.Take(effects.Where(func(r effects.Event) bool {
		return r.Type == "RELEASE" && r.Payload == ev.Payload
	}))
	if err != nil {
		return nil, err
	}
	return nil, t.Put(effects.Event{Type: "DONE", Payload: ev.Payload})
}

func dispatch(t *testing.T, e *effects.Engine, events ...effects.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, e.Dispatch(ev))
	}
}

func TestTakeEvery_RunsWorkersConcurrently(t *testing.T) {
	e, rec := start(t, watcher.Binding{Name: "every", Pattern: effects.Exact("GO"), Worker: echo, Strategy: watcher.Every})

	dispatch(t, e,
		effects.Event{Type: "GO", Payload: 1},
		effects.Event{Type: "GO", Payload: 2},
		effects.Event{Type: "RELEASE", Payload: 2},
		effects.Event{Type: "RELEASE", Payload: 1},
	)

	require.Eventually(t, func() bool { return len(rec.payloads("DONE")) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []any{2, 1}, rec.payloads("DONE"))
}

func TestTakeLatest_CancelsPreviousWorker(t *testing.T) {
	cancelled := make(chan any, 2)
	worker := func(t *effects.Task, ev effects.Event) (any, error) {
		t.OnCancel(func() { cancelled <- ev.Payload })
		return echo(t, ev)
	}
	e, rec := start(t, watcher.Binding{Name: "latest", Pattern: effects.Exact("GO"), Worker: worker, Strategy: watcher.Latest})

	dispatch(t, e,
		effects.Event{Type: "GO", Payload: 1},
		effects.Event{Type: "GO", Payload: 2},
		effects.Event{Type: "RELEASE", Payload: 1},
		effects.Event{Type: "RELEASE", Payload: 2},
	)

	require.Eventually(t, func() bool { return len(rec.payloads("DONE")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []any{2}, rec.payloads("DONE"))
	select {
	case p := <-cancelled:
		assert.Equal(t, 1, p)
	case <-time.After(time.Second):
		t.Fatal("first worker was not cancelled")
	}
}

func TestTakeLeading_IgnoresEventsWhileBusy(t *testing.T) {
	e, rec := start(t, watcher.Binding{Name: "leading", Pattern: effects.Exact("GO"), Worker: echo, Strategy: watcher.Leading})

	dispatch(t, e,
		effects.Event{Type: "GO", Payload: 1},
		effects.Event{Type: "GO", Payload: 2},
		effects.Event{Type: "RELEASE", Payload: 2},
		effects.Event{Type: "RELEASE", Payload: 1},
	)
	require.Eventually(t, func() bool { return len(rec.payloads("DONE")) == 1 }, time.Second, time.Millisecond)

	dispatch(t, e,
		effects.Event{Type: "GO", Payload: 3},
		effects.Event{Type: "RELEASE", Payload: 3},
	)
	require.Eventually(t, func() bool { return len(rec.payloads("DONE")) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []any{1, 3}, rec.payloads("DONE"))
}

func TestForkAll_RejectsBindingWithoutWorker(t *testing.T) {
	e := effects.New(context.Background(), effects.WithLogger(zaptest.NewLogger(t)))
	root, err := e.Start(func(t *effects.Task, _ ...any) (any, error) {
		return watcher.ForkAll(t, watcher.Binding{Name: "broken"})
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = root.Wait(ctx)
	assert.ErrorIs(t, err, effects.ErrNilWorkflow)
	require.NoError(t, e.Stop(ctx, root))
}

func TestStrategy_String(t *testing.T) {
	got := []string{watcher.Every.String(), watcher.Latest.String(), watcher.Leading.String(), watcher.Strategy(9).String()}
	assert.True(t, slices.Equal([]string{"every", "latest", "leading", "strategy(9)"}, got))
}
